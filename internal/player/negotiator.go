// Package player negotiates how a viewer actually receives a stream.
// Transports are tried in preference order (WebRTC first, then HLS,
// then progressive MP4) until one connects.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-streamgw/internal/metrics"
)

// State is the negotiator's connection lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// DefaultStageTimeout bounds each transport attempt.
const DefaultStageTimeout = 10 * time.Second

// ErrPlaybackExhausted means every transport in the chain was tried
// exactly once and all failed.
var ErrPlaybackExhausted = errors.New("all playback transports failed")

// Stage is one playback transport attempt. Connect returns a handle
// that tears the transport down when closed.
type Stage interface {
	Name() string
	Connect(ctx context.Context, streamID string) (io.Closer, error)
}

// Attempt records one stage try within a Connect cycle.
type Attempt struct {
	Stage string
	Err   error
}

// Negotiator walks the stage chain for a single viewer. Connect is
// re-entrant safe: calls made while a negotiation is in flight are
// no-ops.
type Negotiator struct {
	Stages       []Stage
	StageTimeout time.Duration

	// OnStateChange, when set, observes every transition. Called
	// outside the negotiator lock.
	OnStateChange func(state State, stage string)

	mu          sync.Mutex
	state       State
	activeStage string
	handle      io.Closer
	attempts    []Attempt

	// gen identifies the current Connect cycle. Disconnect bumps it so
	// a superseded cycle discards its result instead of resurrecting
	// the connection.
	gen    uint64
	cancel context.CancelFunc
}

func NewNegotiator(stages ...Stage) *Negotiator {
	return &Negotiator{
		Stages:       stages,
		StageTimeout: DefaultStageTimeout,
		state:        StateDisconnected,
	}
}

// State reports the current lifecycle position and the stage it
// belongs to.
func (n *Negotiator) State() (State, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state, n.activeStage
}

// Attempts returns the stage tries of the most recent Connect cycle.
func (n *Negotiator) Attempts() []Attempt {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Attempt, len(n.attempts))
	copy(out, n.attempts)
	return out
}

// Connect tries each stage once, in order, until one succeeds. While a
// cycle is in flight further Connect calls return immediately with no
// side effects. A Disconnect issued mid-cycle cancels the cycle: any
// stage result arriving afterwards is closed and discarded.
func (n *Negotiator) Connect(ctx context.Context, streamID string) error {
	n.mu.Lock()
	if n.state == StateConnecting {
		n.mu.Unlock()
		return nil
	}
	if n.state == StateConnected {
		n.mu.Unlock()
		return nil
	}
	if len(n.Stages) == 0 {
		n.mu.Unlock()
		return fmt.Errorf("no playback transports configured")
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	n.gen++
	gen := n.gen
	n.cancel = cancel
	n.state = StateConnecting
	n.activeStage = ""
	n.attempts = n.attempts[:0]
	n.mu.Unlock()
	defer cancel()
	n.notify(StateConnecting, "")

	for _, stage := range n.Stages {
		if err := cycleCtx.Err(); err != nil {
			n.fail(gen, "")
			return err
		}

		handle, err := n.tryStage(cycleCtx, stage, streamID)

		n.mu.Lock()
		if n.gen != gen {
			// Disconnect superseded this cycle while the stage was in
			// flight. Its state transitions already happened; our only
			// job is to not leak the handle.
			n.mu.Unlock()
			if handle != nil {
				handle.Close()
			}
			return context.Canceled
		}
		n.attempts = append(n.attempts, Attempt{Stage: stage.Name(), Err: err})
		if err != nil {
			n.mu.Unlock()
			log.Printf("[PLAYER] stream=%s stage=%s failed: %v", streamID, stage.Name(), err)
			continue
		}
		n.state = StateConnected
		n.activeStage = stage.Name()
		n.handle = handle
		n.cancel = nil
		n.mu.Unlock()
		n.notify(StateConnected, stage.Name())
		log.Printf("[PLAYER] stream=%s connected via %s", streamID, stage.Name())
		return nil
	}

	if n.fail(gen, "") {
		metrics.PlaybackExhausted.Inc()
	}
	return ErrPlaybackExhausted
}

func (n *Negotiator) tryStage(ctx context.Context, stage Stage, streamID string) (io.Closer, error) {
	timeout := n.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return stage.Connect(stageCtx, streamID)
}

// Disconnect tears down the active transport, or cancels an in-flight
// Connect cycle, and returns the negotiator to the disconnected state.
func (n *Negotiator) Disconnect() error {
	n.mu.Lock()
	n.gen++
	cancel := n.cancel
	n.cancel = nil
	handle := n.handle
	n.handle = nil
	n.state = StateDisconnected
	n.activeStage = ""
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.notify(StateDisconnected, "")

	if handle != nil {
		return handle.Close()
	}
	return nil
}

// fail moves the cycle to StateError unless a Disconnect superseded it.
// Reports whether the transition applied.
func (n *Negotiator) fail(gen uint64, stage string) bool {
	n.mu.Lock()
	if n.gen != gen {
		n.mu.Unlock()
		return false
	}
	n.state = StateError
	n.activeStage = stage
	n.cancel = nil
	n.mu.Unlock()
	n.notify(StateError, stage)
	return true
}

func (n *Negotiator) notify(state State, stage string) {
	if n.OnStateChange != nil {
		n.OnStateChange(state, stage)
	}
}
