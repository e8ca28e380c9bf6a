package pgconn

import (
	"context"
	"fmt"

	"github.com/pgwire/pgwire/internal/frame"
	"github.com/pgwire/pgwire/internal/protocol"
)

// Query submits sql for execution and blocks until the server's
// ReadyForQuery closes out the response, or ctx is done first. Queries
// from multiple goroutines are served strictly FIFO by the connection's
// single I/O task (spec.md §5); a caller that abandons ctx does not
// disturb that ordering or leave the connection waiting on a result no
// one reads — the result channel is buffered so the loop never blocks
// on an orphaned caller.
func (c *Conn) Query(ctx context.Context, sql string) (*QueryResult, error) {
	if c.pending != nil {
		select {
		case c.pending <- struct{}{}:
			defer func() { <-c.pending }()
		case <-c.closed:
			return nil, fmt.Errorf("%w: connection closed", ErrInvalidState)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	req := &request{sql: sql, result: make(chan *QueryResult, 1)}
	select {
	case c.requests <- req:
	case <-c.closed:
		return nil, fmt.Errorf("%w: connection closed", ErrInvalidState)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.result:
		return res, res.Err
	case <-c.closed:
		return nil, fmt.Errorf("%w: connection closed", ErrInvalidState)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends Terminate and waits for the I/O task to exit. Safe to
// call more than once or concurrently with in-flight Query calls,
// which observe ErrInvalidState once the task has stopped.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		req := &request{terminate: true, result: make(chan *QueryResult, 1)}
		select {
		case c.requests <- req:
		case <-c.closed:
		}
	})
	<-c.closed
	return nil
}

// loop is the connection's single cooperative I/O task (spec.md §2,
// §5): it owns conn and r exclusively from here on, serving requests
// strictly in the order they were accepted from the channel.
func (c *Conn) loop(r *frame.Reassembler) {
	defer close(c.closed)
	defer c.conn.Close()

	for req := range c.requests {
		if req.terminate {
			tb := protocol.TerminateBuilder{}
			writeAll(c.conn, tb.Write(make([]byte, 0, tb.Measure())))
			req.result <- &QueryResult{}
			return
		}

		qb := protocol.QueryBuilder{SQL: req.sql}
		if err := writeAll(c.conn, qb.Write(make([]byte, 0, qb.Measure()))); err != nil {
			c.fail(err)
			req.result <- &QueryResult{Err: err}
			return
		}

		res, err := c.readQueryResponse(r)
		if err != nil {
			c.fail(err)
			req.result <- &QueryResult{Err: err}
			return
		}
		req.result <- res

		c.mu.Lock()
		c.txStatus = res.TxStatus
		c.mu.Unlock()
	}
}

// readQueryResponse consumes one simple-query response: zero or more
// RowDescription/DataRow*/CommandComplete groups (one query string can
// hold several ';'-separated statements) followed by ReadyForQuery. An
// ErrorResponse aborts the statement but not the connection — the
// server still issues ReadyForQuery, so reading continues until then
// per the extended-query/simple-query error recovery rule this package
// mirrors from spec.md §7.
func (c *Conn) readQueryResponse(r *frame.Reassembler) (*QueryResult, error) {
	var res QueryResult
	var cur *ResultSet

	for {
		f, err := readFrame(c.conn, r)
		if err != nil {
			return nil, err
		}
		switch protocol.Tag(f.Tag) {
		case protocol.TagRowDescription:
			rdr, ferr := protocol.NewRowDescriptionReader(f.Payload)
			if ferr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, ferr)
			}
			cols, ferr := rdr.Fields()
			if ferr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, ferr)
			}
			cur = &ResultSet{Columns: cols}

		case protocol.TagDataRow:
			dr, derr := protocol.NewDataRowReader(f.Payload)
			if derr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, derr)
			}
			cols, derr := dr.Columns()
			if derr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, derr)
			}
			if cur == nil {
				cur = &ResultSet{}
			}
			cur.Rows = append(cur.Rows, cols)

		case protocol.TagCommandComplete:
			tag, terr := protocol.NewCommandCompleteReader(f.Payload).Tag()
			if terr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, terr)
			}
			if cur == nil {
				cur = &ResultSet{}
			}
			cur.Tag = tag
			res.Sets = append(res.Sets, *cur)
			cur = nil

		case protocol.TagEmptyQueryResponse:
			res.Sets = append(res.Sets, ResultSet{})

		case protocol.TagNoticeResponse:
			ef, _ := protocol.NewNoticeResponseReader(f.Payload).Fields()
			c.logf("server notice", "message", ef.Message)

		case protocol.TagErrorResponse:
			ef, eerr := protocol.NewErrorResponseReader(f.Payload).Fields()
			if eerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, eerr)
			}
			// Keep reading: the server still owes us ReadyForQuery.
			res.Err = wrapServerError(ef)

		case protocol.TagReadyForQuery:
			rq, rerr := protocol.NewReadyForQueryReader(f.Payload)
			if rerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrProtocolFrame, rerr)
			}
			res.TxStatus = rq.Status()
			return &res, nil

		default:
			c.logf("unexpected message in query response", "tag", string(f.Tag))
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.mu.Unlock()
}
