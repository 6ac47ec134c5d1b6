package transcode

import (
	"io"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-streamgw/internal/metrics"
)

const consumerBuffer = 64

// consumer is one attached viewer. Chunks are fanned out through ch;
// the channel is closed when the session ends.
type consumer struct {
	id int
	ch chan []byte
}

// session is one running transcoder process and its viewers.
type session struct {
	sourceURL string
	mgr       *Manager
	proc      process

	mu         sync.Mutex
	state      State
	err        error
	consumers  map[int]*consumer
	nextID     int
	graceTimer *time.Timer
	stopped    bool
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) exitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// attach registers a viewer. Returns nil when the session has already
// ended; the terminal transition and the consumer-map teardown happen
// under the same lock, so a non-nil consumer always gets its channel
// closed when the session dies.
func (s *session) attach() *consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFailed || s.state == StateStopped {
		return nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	c := &consumer{id: s.nextID, ch: make(chan []byte, consumerBuffer)}
	s.nextID++
	s.consumers[c.id] = c
	return c
}

func (s *session) detach(c *consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumers[c.id]; !ok {
		return
	}
	delete(s.consumers, c.id)
	if len(s.consumers) > 0 || s.stopped {
		return
	}
	// Last viewer gone. Keep the process warm for a short grace period
	// before tearing it down.
	grace := s.mgr.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	s.graceTimer = time.AfterFunc(grace, func() {
		s.mu.Lock()
		idle := len(s.consumers) == 0 && !s.stopped
		s.mu.Unlock()
		if idle {
			log.Printf("[TRANSCODE] idle timeout source=%s", s.sourceURL)
			s.stop()
		}
	})
}

// pump reads transcoder output and fans it out to every consumer. Runs
// as a goroutine for the session's lifetime.
func (s *session) pump() {
	out := s.proc.Output()
	buf := make([]byte, 32*1024)
	produced := false

	for {
		n, err := out.Read(buf)
		if n > 0 {
			if !produced {
				produced = true
				s.setState(StateStreaming)
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			break
		}
	}

	waitErr := s.proc.Wait()

	s.mu.Lock()
	intentional := s.stopped
	if intentional || (produced && waitErr == nil) {
		s.state = StateStopped
	} else {
		s.state = StateFailed
		if waitErr != nil {
			s.err = waitErr
		} else {
			s.err = io.ErrUnexpectedEOF
		}
	}
	failed := s.state == StateFailed
	for _, c := range s.consumers {
		close(c.ch)
	}
	s.consumers = make(map[int]*consumer)
	s.mu.Unlock()

	if failed {
		log.Printf("[TRANSCODE] failed source=%s err=%v", s.sourceURL, s.exitErr())
		s.mgr.recordFailure(s.sourceURL)
	} else {
		log.Printf("[TRANSCODE] stopped source=%s", s.sourceURL)
	}
	metrics.TranscodeSessionsActive.Dec()
	s.mgr.dropSession(s)
}

func (s *session) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.consumers {
		select {
		case c.ch <- chunk:
		default:
			// Viewer cannot keep up with the live stream. Drop it
			// rather than stalling everyone else.
			close(c.ch)
			delete(s.consumers, id)
		}
	}
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.mu.Unlock()
	s.proc.Stop()
}
