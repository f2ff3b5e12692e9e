package server

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/burrowdb/burrow/pkg/types"
)

// Frame flags: the first byte of every decoded frame.
const (
	flagData byte = 0
	flagErr  byte = 1
)

// Encode wraps a payload or an error into a frame.
func Encode(data []byte, err error) []byte {
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "internal error"
		}
		return append([]byte{flagErr}, msg...)
	}
	return append([]byte{flagData}, data...)
}

// Decode unwraps a frame into its payload, or the error the peer
// reported.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 1 {
		return nil, types.ErrInvalidPkgData
	}
	switch frame[0] {
	case flagData:
		return frame[1:], nil
	case flagErr:
		return nil, errors.New(string(frame[1:]))
	default:
		return nil, fmt.Errorf("flag %d: %w", frame[0], types.ErrInvalidPkgData)
	}
}

// Transporter moves frames over a connection, one lowercase-hex line
// per frame. Decoding tolerates uppercase hex.
type Transporter struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// NewTransporter wraps a connection.
func NewTransporter(conn net.Conn) *Transporter {
	return &Transporter{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Send writes one frame.
func (t *Transporter) Send(frame []byte) error {
	line := hex.EncodeToString(frame) + "\n"
	if _, err := t.w.WriteString(line); err != nil {
		return err
	}
	return t.w.Flush()
}

// Receive reads one frame. io.EOF means the peer hung up.
func (t *Transporter) Receive() ([]byte, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	frame, err := hex.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("hex frame: %w", types.ErrInvalidPkgData)
	}
	return frame, nil
}

// Close shuts the connection down.
func (t *Transporter) Close() error {
	return t.conn.Close()
}
