package channel

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/wippyai/wasm-wallet/errors"
)

// maxFrame bounds a single newline-delimited frame.
const maxFrame = 16 << 20

// Stream is a Conn over a byte stream carrying one JSON envelope per line.
type Stream struct {
	w      io.Writer
	c      io.Closer
	frames chan []byte
	done   chan struct{}
	err    error
	// mapEOF lets process-backed streams replace EOF with the exit status.
	mapEOF    func() error
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewStream starts reading frames from r. c, when non-nil, is closed by Close.
func NewStream(r io.Reader, w io.Writer, c io.Closer) *Stream {
	return newStream(r, w, c, nil)
}

func newStream(r io.Reader, w io.Writer, c io.Closer, mapEOF func() error) *Stream {
	s := &Stream{
		w:      w,
		c:      c,
		frames: make(chan []byte, DefaultBuffer),
		done:   make(chan struct{}),
		mapEOF: mapEOF,
	}
	go s.readLoop(r)
	return s
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.frames)

	br := bufio.NewReaderSize(r, 64<<10)
	for {
		line, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			line, err = readLongLine(br, line)
		}
		if frame := bytes.TrimSpace(line); len(frame) > 0 {
			buf := make([]byte, len(frame))
			copy(buf, frame)
			select {
			case s.frames <- buf:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if err == io.EOF && s.mapEOF != nil {
				if exitErr := s.mapEOF(); exitErr != nil {
					err = exitErr
				}
			}
			s.err = err
			return
		}
	}
}

func readLongLine(br *bufio.Reader, first []byte) ([]byte, error) {
	line := append([]byte(nil), first...)
	for {
		more, err := br.ReadSlice('\n')
		line = append(line, more...)
		if len(line) > maxFrame {
			return nil, errors.InvalidInput(errors.PhaseTransport, "frame exceeds limit")
		}
		if err != bufio.ErrBufferFull {
			return line, err
		}
	}
}

// Send writes msg followed by a newline. msg must be a single-line envelope.
func (s *Stream) Send(ctx context.Context, msg []byte) error {
	if bytes.IndexByte(msg, '\n') >= 0 {
		return errors.InvalidInput(errors.PhaseTransport, "frame contains newline")
	}
	select {
	case <-s.done:
		return errors.Closed(errors.PhaseTransport, "stream")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	if _, err := s.w.Write(buf); err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindFailed, err, "write frame")
	}
	return nil
}

// Recv returns the next frame. The read error is reported once all frames
// read before it have been delivered.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return nil, s.err
		}
		return frame, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops reading and closes the underlying stream.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.c != nil {
			err = s.c.Close()
		}
	})
	return err
}
