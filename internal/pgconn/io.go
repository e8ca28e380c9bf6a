package pgconn

import (
	"fmt"
	"io"
	"net"

	"github.com/pgwire/pgwire/internal/frame"
)

// readFrame blocks until the reassembler yields one complete frame,
// feeding it bytes read from conn as needed. This is the synchronous
// equivalent of spec.md §4.5/§5's "reassembler ⇐ transport" hop: one
// connection owns one reassembler and performs its own blocking
// reads, so there is never concurrent access to either.
func readFrame(conn net.Conn, r *frame.Reassembler) (frame.Frame, error) {
	for {
		f, ok, err := r.Next()
		if err != nil {
			return frame.Frame{}, fmt.Errorf("%w: %v", ErrProtocolFrame, err)
		}
		if ok {
			return f, nil
		}
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if n > 0 {
			r.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return frame.Frame{}, fmt.Errorf("%w: connection closed: %v", ErrTransport, err)
			}
			return frame.Frame{}, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
}

func writeAll(conn net.Conn, buf []byte) error {
	_, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}
