// Package pgconn implements the client-side PostgreSQL connection
// state machine: startup, SASL/SCRAM-SHA-256 and password
// authentication, and a simple-query loop multiplexed over one
// duplex transport (spec.md §4.6, §5).
package pgconn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pgwire/pgwire/internal/frame"
	"github.com/pgwire/pgwire/internal/protocol"
	"github.com/pgwire/pgwire/internal/scram"
	"github.com/pgwire/pgwire/internal/wire"
)

// Conn is a live, authenticated PostgreSQL v3 connection. Its state
// machine and transport are owned exclusively by one background
// goroutine (the "I/O task" of spec.md §2); Query submissions from
// other goroutines are synchronized only through the request channel,
// never through a lock on the state itself (spec.md §5).
type Conn struct {
	conn net.Conn
	logf func(msg string, args ...any)

	mu         sync.Mutex
	state      State
	params     map[string]string
	backendPID int32
	backendKey int32
	txStatus   byte
	lastErr    error

	requests  chan *request
	closed    chan struct{}
	closeOnce sync.Once

	// pending bounds the number of Query calls that may be queued
	// ahead of the I/O task at once; nil means unbounded (spec.md
	// §9's default). Acts as a counting semaphore: Query acquires a
	// slot before submitting and releases it once the loop has taken
	// the request off the channel.
	pending chan struct{}
}

// request is a user submission: either a query or a termination.
type request struct {
	sql      string // empty + terminate==true means Terminate
	terminate bool
	result   chan *QueryResult
}

// QueryResult accumulates everything the simple-query loop produced
// for one submitted query: zero or more result sets (a query can
// contain multiple ';'-separated statements, each producing its own
// RowDescription/rows/CommandComplete before the next), plus any
// error.
type QueryResult struct {
	Sets []ResultSet
	Err  error
	// TxStatus is the transaction status byte ('I','T','E') carried
	// by the ReadyForQuery that completed this query.
	TxStatus byte
}

// ResultSet is one RowDescription/DataRow*/CommandComplete group.
type ResultSet struct {
	Columns []protocol.FieldDescription
	Rows    [][]wire.Encoded
	Tag     string
}

// Connect performs the startup message, the full authentication
// handshake (plain/MD5/SCRAM), and the post-auth ParameterStatus/
// BackendKeyData/ReadyForQuery sequence, returning a Conn in the
// Ready state with its I/O task already running. netConn is assumed
// already TLS/GSS-negotiated if needed (spec.md §1: out of scope
// here).
func Connect(ctx context.Context, netConn net.Conn, creds Credentials) (*Conn, error) {
	c := &Conn{
		conn:     netConn,
		state:    StateConnecting,
		params:   make(map[string]string),
		requests: make(chan *request),
		closed:   make(chan struct{}),
		logf:     slog.Default().Warn,
	}

	r := frame.New(false) // backend frames are always tagged

	if err := c.sendStartup(creds); err != nil {
		return nil, err
	}
	if err := c.authenticate(r, creds); err != nil {
		c.state = StateError
		c.lastErr = err
		return nil, err
	}
	if err := c.awaitReady(r); err != nil {
		c.state = StateError
		c.lastErr = err
		return nil, err
	}

	c.state = StateReady
	go c.loop(r)
	return c, nil
}

func (c *Conn) sendStartup(creds Credentials) error {
	b := protocol.StartupMessageBuilder{Params: []protocol.KV{
		{Key: "user", Value: creds.Username},
		{Key: "database", Value: creds.Database},
	}}
	for k, v := range creds.ExtraParams {
		b.Params = append(b.Params, protocol.KV{Key: k, Value: v})
	}
	buf := b.Write(make([]byte, 0, b.Measure()))
	return writeAll(c.conn, buf)
}

// authenticate drives Connecting/SCRAM until AuthenticationOk arrives,
// per the state table in spec.md §4.6.
func (c *Conn) authenticate(r *frame.Reassembler, creds Credentials) error {
	var tx *scram.ClientTransaction

	for {
		f, err := readFrame(c.conn, r)
		if err != nil {
			return err
		}
		switch protocol.Tag(f.Tag) {
		case protocol.TagErrorResponse:
			ef, ferr := protocol.NewErrorResponseReader(f.Payload).Fields()
			if ferr != nil {
				return fmt.Errorf("%w: %v", ErrProtocolFrame, ferr)
			}
			return wrapServerError(ef)

		case protocol.TagAuthentication:
			ar, aerr := protocol.NewAuthenticationReader(f.Payload)
			if aerr != nil {
				return fmt.Errorf("%w: %v", ErrProtocolFrame, aerr)
			}
			switch ar.Kind() {
			case protocol.AuthOK:
				creds.zeroPassword()
				c.state = StateConnected
				return nil

			case protocol.AuthCleartextPassword:
				pm := protocol.PasswordMessageBuilder{Password: creds.Password}
				if err := writeAll(c.conn, pm.Write(make([]byte, 0, pm.Measure()))); err != nil {
					return err
				}

			case protocol.AuthMD5Password:
				salt, serr := ar.MD5Salt()
				if serr != nil {
					return fmt.Errorf("%w: %v", ErrProtocolFrame, serr)
				}
				hashed := MD5Password(creds.Username, creds.Password, salt)
				pm := protocol.PasswordMessageBuilder{Password: hashed}
				if err := writeAll(c.conn, pm.Write(make([]byte, 0, pm.Measure()))); err != nil {
					return err
				}

			case protocol.AuthSASL:
				mechs, merr := ar.SASLMechanisms()
				if merr != nil {
					return fmt.Errorf("%w: %v", ErrProtocolFrame, merr)
				}
				if !containsMechanism(mechs, scram.Mechanism) {
					return fmt.Errorf("%w: server does not offer %s (offered %v)", ErrAuthProtocol, scram.Mechanism, mechs)
				}
				tx = scram.NewClientTransaction(creds.Username, creds.Password)
				clientFirst, serr := tx.Start()
				if serr != nil {
					return fmt.Errorf("%w: %v", ErrAuthProtocol, serr)
				}
				ir := protocol.SASLInitialResponseBuilder{Mechanism: scram.Mechanism, Response: clientFirst}
				if err := writeAll(c.conn, ir.Write(make([]byte, 0, ir.Measure()))); err != nil {
					return err
				}
				c.state = StateSCRAM

			case protocol.AuthSASLContinue:
				if tx == nil {
					return fmt.Errorf("%w: SASLContinue without SASL", ErrProtocolFrame)
				}
				clientFinal, serr := tx.Step(ar.SASLData())
				if serr != nil {
					return fmt.Errorf("%w: %v", ErrAuthProtocol, serr)
				}
				sr := protocol.SASLResponseBuilder{Response: clientFinal}
				if err := writeAll(c.conn, sr.Write(make([]byte, 0, sr.Measure()))); err != nil {
					return err
				}

			case protocol.AuthSASLFinal:
				if tx == nil {
					return fmt.Errorf("%w: SASLFinal without SASL", ErrProtocolFrame)
				}
				if serr := tx.Finish(ar.SASLData()); serr != nil {
					return fmt.Errorf("%w: %v", ErrAuthProtocol, serr)
				}
				// Expect AuthenticationOk next, per spec.md §4.6 step 3.

			default:
				return fmt.Errorf("%w: unsupported authentication kind %d", ErrAuthProtocol, ar.Kind())
			}

		default:
			return fmt.Errorf("%w: unexpected message tag %q during authentication", ErrProtocolFrame, f.Tag)
		}
	}
}

// awaitReady consumes ParameterStatus/BackendKeyData/NoticeResponse
// until ReadyForQuery, per spec.md §4.6 step 4.
func (c *Conn) awaitReady(r *frame.Reassembler) error {
	for {
		f, err := readFrame(c.conn, r)
		if err != nil {
			return err
		}
		switch protocol.Tag(f.Tag) {
		case protocol.TagParameterStatus:
			ps := protocol.NewParameterStatusReader(f.Payload)
			name, _ := ps.Name()
			val, _ := ps.Value()
			c.params[name] = val

		case protocol.TagBackendKeyData:
			bk, berr := protocol.NewBackendKeyDataReader(f.Payload)
			if berr != nil {
				return fmt.Errorf("%w: %v", ErrProtocolFrame, berr)
			}
			c.backendPID = bk.ProcessID()
			c.backendKey = bk.SecretKey()

		case protocol.TagNoticeResponse:
			ef, _ := protocol.NewNoticeResponseReader(f.Payload).Fields()
			c.logf("server notice", "message", ef.Message)

		case protocol.TagErrorResponse:
			ef, ferr := protocol.NewErrorResponseReader(f.Payload).Fields()
			if ferr != nil {
				return fmt.Errorf("%w: %v", ErrProtocolFrame, ferr)
			}
			return wrapServerError(ef)

		case protocol.TagReadyForQuery:
			rq, rerr := protocol.NewReadyForQueryReader(f.Payload)
			if rerr != nil {
				return fmt.Errorf("%w: %v", ErrProtocolFrame, rerr)
			}
			c.txStatus = rq.Status()
			return nil

		default:
			c.logf("unexpected message before ready", "tag", string(f.Tag))
		}
	}
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

// SetMaxPending bounds the number of Query calls that may be
// in-flight (submitted but not yet picked up by the I/O task) at
// once; additional callers block until a slot frees up or their
// context is done. n <= 0 restores the unbounded default. Intended to
// be called once, before concurrent Query use begins.
func (c *Conn) SetMaxPending(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		c.pending = nil
		return
	}
	c.pending = make(chan struct{}, n)
}

// State returns the connection's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Parameters returns a snapshot of the server parameter map collected
// from ParameterStatus messages.
func (c *Conn) Parameters() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// BackendPID and BackendSecretKey identify this connection for an
// out-of-band CancelRequest on a separate connection (spec.md §4.6).
func (c *Conn) BackendPID() int32       { return c.backendPID }
func (c *Conn) BackendSecretKey() int32 { return c.backendKey }

// TxStatus returns the transaction status byte ('I', 'T', 'E') from
// the most recently observed ReadyForQuery.
func (c *Conn) TxStatus() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txStatus
}
