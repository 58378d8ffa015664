package channel

import (
	"context"
	"io"
	"sync"

	"github.com/wippyai/wasm-wallet/errors"
)

// DefaultBuffer is the per-direction capacity of a Pipe.
const DefaultBuffer = 64

// Conn is one end of the bidirectional channel between the client facade and
// the execution host. Each message is one encoded envelope.
//
// Send is safe for concurrent use. Recv must be called from a single
// goroutine. After an orderly close Recv returns io.EOF; when the peer failed
// it returns the peer's error.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// ErrorCloser is implemented by connections that can report why they closed.
type ErrorCloser interface {
	CloseWithError(err error) error
}

type pipe struct {
	done chan struct{}
	err  error
	once sync.Once
}

func (p *pipe) close(err error) {
	p.once.Do(func() {
		if err == nil {
			err = io.EOF
		}
		p.err = err
		close(p.done)
	})
}

type pipeConn struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// Pipe returns two connected in-process connections. Closing either end
// closes both; messages already buffered are still delivered.
func Pipe(buffer int) (Conn, Conn) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	p := &pipe{done: make(chan struct{})}
	return &pipeConn{p: p, in: ba, out: ab}, &pipeConn{p: p, in: ab, out: ba}
}

func (c *pipeConn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.p.done:
		return errors.Closed(errors.PhaseTransport, "pipe")
	default:
	}

	buf := make([]byte, len(msg))
	copy(buf, msg)

	select {
	case c.out <- buf:
		return nil
	case <-c.p.done:
		return errors.Closed(errors.PhaseTransport, "pipe")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.p.done:
		select {
		case msg := <-c.in:
			return msg, nil
		default:
			return nil, c.p.err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.p.close(nil)
	return nil
}

// CloseWithError closes the pipe; the peer's Recv reports err once drained.
func (c *pipeConn) CloseWithError(err error) error {
	c.p.close(err)
	return nil
}
