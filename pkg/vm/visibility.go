package vm

import (
	"github.com/burrowdb/burrow/pkg/types"
)

// isVisible decides whether a version stamped (xmin, xmax) is visible
// to t.
//
// Under read committed: any committed-created version whose deletion
// has not committed. Under repeatable read: additionally hide versions
// created by transactions that began after t or were active when t
// began, and ignore deletions by such transactions. A version the
// reader itself is deleting (xmax == t) stays visible to the reader
// until commit.
func (v *versionManager) isVisible(t *transaction, xmin, xmax types.XID) (bool, error) {
	if xmin == t.xid && xmax == 0 {
		return true, nil
	}

	minCommitted, err := v.tm.IsCommitted(xmin)
	if err != nil {
		return false, err
	}
	if !minCommitted {
		return false, nil
	}
	if t.level == types.RepeatableRead && (xmin >= t.xid || t.inSnapshot(xmin)) {
		return false, nil
	}

	if xmax == 0 || xmax == t.xid {
		return true, nil
	}
	maxCommitted, err := v.tm.IsCommitted(xmax)
	if err != nil {
		return false, err
	}
	if !maxCommitted {
		return true, nil
	}
	if t.level == types.RepeatableRead && (xmax > t.xid || t.inSnapshot(xmax)) {
		return true, nil
	}
	return false, nil
}
