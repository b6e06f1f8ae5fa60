package direwolf

import (
	"errors"
	"io"
	"net"
	"sync"
)

// readBufferSize is the chunk size read from the KISS socket.
const readBufferSize = 4096

// Source forwards everything received on a connection to a writer.
//
// Data read before a writer has been set is held until one arrives, so
// early frames are not lost. Reading starts at once so that direwolf
// closing the connection is noticed even without a writer.
//
// Thread Safety:
//   - SetWriter and Close are safe for concurrent use.
type Source struct {
	conn   net.Conn
	logger Logger

	mu     sync.Mutex
	writer io.Writer

	writerSet  chan struct{}
	writerOnce sync.Once
	closed     chan struct{}
	closeOnce  sync.Once
	done       chan struct{}
}

// newSource starts pumping conn into the writer set later.
func newSource(conn net.Conn, logger Logger) *Source {
	s := &Source{
		conn:      conn,
		logger:    logger,
		writerSet: make(chan struct{}),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// SetWriter replaces the destination of the stream. A nil writer is ignored.
func (s *Source) SetWriter(w io.Writer) {
	if w == nil {
		return
	}
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
	s.writerOnce.Do(func() { close(s.writerSet) })
}

// Close closes the connection and waits for the pump to exit.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	<-s.done
	return err
}

// Done is closed when the pump has exited, either because the connection
// was closed locally or because direwolf went away.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) run() {
	defer close(s.done)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if !s.awaitWriter() {
				return
			}
			s.mu.Lock()
			w := s.writer
			s.mu.Unlock()
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Warn("kiss writer rejected data", "bytes", n, "error", werr)
			}
		}
		if err != nil {
			select {
			case <-s.closed:
			default:
				if !errors.Is(err, io.EOF) {
					s.logger.Warn("kiss connection failed", "error", err)
				} else {
					s.logger.Info("kiss connection closed by direwolf")
				}
			}
			return
		}
	}
}

// awaitWriter blocks until a writer is set. It reports false when the
// source was closed first.
func (s *Source) awaitWriter() bool {
	select {
	case <-s.writerSet:
		return true
	case <-s.closed:
		return false
	}
}
