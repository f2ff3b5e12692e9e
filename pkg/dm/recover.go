package dm

import (
	"fmt"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/pcache"
	"github.com/burrowdb/burrow/pkg/tm"
	"github.com/burrowdb/burrow/pkg/types"
	"github.com/burrowdb/burrow/pkg/wal"
)

// runRecovery replays the write-ahead log after an unclean shutdown.
// Three passes: find the highest page any record touches and truncate
// the file there (pages written after the last logged record are
// garbage); REDO every record of a finished transaction in log order;
// UNDO every record of a still-active transaction in reverse order,
// then mark that transaction aborted.
//
// The log's durability ordering makes this sound: each record was
// fsynced before its page write, so any page state the log does not
// cover is free to disappear.
func runRecovery(t tm.Manager, lg wal.Log, pc pcache.PageCache) error {
	logger := log.WithComponent("recover")
	timer := metrics.NewTimer()
	metrics.RecoveryRuns.Inc()

	// Pass 1: bound the data file.
	maxPgno := types.PageNo(1)
	it, err := lg.Iterator()
	if err != nil {
		return err
	}
	records := 0
	for {
		body, err := it.Next()
		if err != nil {
			return err
		}
		if body == nil {
			break
		}
		records++
		var pgno types.PageNo
		switch body[0] {
		case logInsert:
			pgno = decodeInsertLog(body).pgno
		case logUpdate:
			pgno, _ = types.SplitUID(decodeUpdateLog(body).uid)
		}
		if pgno > maxPgno {
			maxPgno = pgno
		}
	}
	if err := pc.TruncateTo(maxPgno); err != nil {
		return err
	}
	logger.Info().Int("records", records).Uint32("max_pgno", maxPgno).Msg("scanned log")

	// Pass 2: REDO finished transactions in log order.
	it, err = lg.Iterator()
	if err != nil {
		return err
	}
	for {
		body, err := it.Next()
		if err != nil {
			return err
		}
		if body == nil {
			break
		}
		xid := recordXID(body)
		active, err := t.IsActive(xid)
		if err != nil {
			return err
		}
		if active {
			continue
		}
		if err := applyRecord(pc, body, true); err != nil {
			return err
		}
	}

	// Pass 3: UNDO active transactions in reverse, then abort them.
	undo := make(map[types.XID][][]byte)
	var order []types.XID
	it, err = lg.Iterator()
	if err != nil {
		return err
	}
	for {
		body, err := it.Next()
		if err != nil {
			return err
		}
		if body == nil {
			break
		}
		xid := recordXID(body)
		active, err := t.IsActive(xid)
		if err != nil {
			return err
		}
		if !active {
			continue
		}
		if _, seen := undo[xid]; !seen {
			order = append(order, xid)
		}
		undo[xid] = append(undo[xid], body)
	}
	for _, xid := range order {
		bodies := undo[xid]
		for i := len(bodies) - 1; i >= 0; i-- {
			if err := applyRecord(pc, bodies[i], false); err != nil {
				return err
			}
		}
		if err := t.Abort(xid); err != nil {
			return err
		}
		logger.Info().Uint64("xid", xid).Int("records", len(bodies)).Msg("rolled back")
	}

	timer.ObserveDuration(metrics.RecoveryDuration)
	logger.Info().Msg("recovery complete")
	return nil
}

func recordXID(body []byte) types.XID {
	// Both record kinds carry the xid right after the type byte.
	return decodeInsertLog(body).xid
}

// applyRecord replays one record. redo reapplies the recorded write;
// undo applies its inverse: re-inserting the item with its valid byte
// flipped to deleted, or restoring the old payload.
func applyRecord(pc pcache.PageCache, body []byte, redo bool) error {
	switch body[0] {
	case logInsert:
		rec := decodeInsertLog(body)
		p, err := pc.GetPage(rec.pgno)
		if err != nil {
			return err
		}
		if redo {
			pcache.RecoverInsert(p, rec.raw, rec.off)
		} else {
			dead := append([]byte(nil), rec.raw...)
			dead[itemValidOff] = 1
			pcache.RecoverInsert(p, dead, rec.off)
		}
		p.Release()
		return nil
	case logUpdate:
		rec := decodeUpdateLog(body)
		pgno, off := types.SplitUID(rec.uid)
		p, err := pc.GetPage(pgno)
		if err != nil {
			return err
		}
		payload := rec.newPayload
		if !redo {
			payload = rec.oldPayload
		}
		pcache.RecoverUpdate(p, payload, off+itemDataOff)
		p.Release()
		return nil
	default:
		return fmt.Errorf("log record type %d: %w", body[0], types.ErrBadLogFile)
	}
}
