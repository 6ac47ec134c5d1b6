// Package transcode supervises on-demand ffmpeg child processes that
// remux camera sources into fragmented MP4 for legacy players. One
// process serves all concurrent viewers of the same source URL.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/technosupport/ts-streamgw/internal/metrics"
)

// State is the lifecycle position of one transcoding session.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

const (
	// DefaultGracePeriod keeps a process alive after its last viewer
	// leaves, so a page refresh reattaches instead of respawning.
	DefaultGracePeriod = 10 * time.Second
	// DefaultThrottleWindow blocks respawn attempts for a source that
	// just failed, protecting the host from crash loops.
	DefaultThrottleWindow = 2 * time.Second

	throttleTableSize = 256
)

// ErrTooManyFailures means the source failed recently and respawning is
// temporarily blocked. Maps to HTTP 429 at the API layer.
var ErrTooManyFailures = errors.New("transcoder restart throttled")

// SpawnError reports that the transcoder child could not be started or
// died before producing output.
type SpawnError struct {
	SourceURL string
	Err       error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("transcoder spawn failed for %s: %v", e.SourceURL, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Manager owns all live transcoding sessions, keyed by source URL.
type Manager struct {
	Binary      string
	GracePeriod time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	throttle *expirable.LRU[string, time.Time]

	// startProcess is swapped out in tests.
	startProcess func(ctx context.Context, binary, sourceURL string) (process, error)
}

func NewManager(binary string, throttleWindow time.Duration) *Manager {
	if binary == "" {
		binary = "ffmpeg"
	}
	if throttleWindow <= 0 {
		throttleWindow = DefaultThrottleWindow
	}
	return &Manager{
		Binary:       binary,
		GracePeriod:  DefaultGracePeriod,
		sessions:     make(map[string]*session),
		throttle:     expirable.NewLRU[string, time.Time](throttleTableSize, nil, throttleWindow),
		startProcess: startFFmpeg,
	}
}

// Serve attaches the writer as a viewer of sourceURL, spawning the
// transcoder if no session is live, and blocks until the stream ends or
// ctx is done. A concurrent Serve for the same URL shares the process.
func (m *Manager) Serve(ctx context.Context, w io.Writer, sourceURL string) error {
	m.mu.Lock()
	if _, throttled := m.throttle.Get(sourceURL); throttled {
		m.mu.Unlock()
		return ErrTooManyFailures
	}

	var c *consumer
	sess := m.sessions[sourceURL]
	if sess != nil {
		// attach refuses a session that died between lookup and now.
		c = sess.attach()
	}
	if c == nil {
		var err error
		sess, err = m.spawnLocked(ctx, sourceURL)
		if err != nil {
			m.throttle.Add(sourceURL, time.Now())
			m.mu.Unlock()
			return &SpawnError{SourceURL: sourceURL, Err: err}
		}
		m.sessions[sourceURL] = sess
		c = sess.attach()
	}
	m.mu.Unlock()

	if c == nil {
		// Child died before the first viewer could attach.
		return &SpawnError{SourceURL: sourceURL, Err: sess.exitErr()}
	}

	defer sess.detach(c)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-c.ch:
			if !ok {
				if sess.State() == StateFailed {
					return &SpawnError{SourceURL: sourceURL, Err: sess.exitErr()}
				}
				return nil
			}
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			if f, ok := w.(flusher); ok {
				f.Flush()
			}
		}
	}
}

type flusher interface{ Flush() }

func (m *Manager) spawnLocked(ctx context.Context, sourceURL string) (*session, error) {
	// The process must outlive the first viewer's request context.
	proc, err := m.startProcess(context.Background(), m.Binary, sourceURL)
	if err != nil {
		return nil, err
	}
	sess := &session{
		sourceURL: sourceURL,
		state:     StateStarting,
		proc:      proc,
		consumers: make(map[int]*consumer),
		mgr:       m,
	}
	go sess.pump()
	metrics.TranscodeSessionsActive.Inc()
	log.Printf("[TRANSCODE] started source=%s", sourceURL)
	return sess, nil
}

// ResetThrottle clears the failure table so the next request may spawn
// immediately.
func (m *Manager) ResetThrottle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle.Purge()
}

// ClearThrottle removes the failure entry for one source URL.
func (m *Manager) ClearThrottle(sourceURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle.Remove(sourceURL)
}

// ActiveSessions reports the live source URLs and their states.
func (m *Manager) ActiveSessions() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.sessions))
	for url, s := range m.sessions {
		out[url] = s.State()
	}
	return out
}

// StopAll kills every session. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

func (m *Manager) dropSession(s *session) {
	m.mu.Lock()
	if m.sessions[s.sourceURL] == s {
		delete(m.sessions, s.sourceURL)
	}
	m.mu.Unlock()
}

func (m *Manager) recordFailure(sourceURL string) {
	m.mu.Lock()
	m.throttle.Add(sourceURL, time.Now())
	m.mu.Unlock()
}
