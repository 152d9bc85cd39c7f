// Package session ties the pipeline together: it owns the measurement
// session lifecycle, runs the per-frame analysis loop, and publishes
// progress for pollers. One session analyses one video against one runway.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flarelab/papiscan/internal/papi"
)

var (
	// ErrAlreadyRunning is returned when Run is called on a session whose
	// processing loop is already active. A session processes at most once.
	ErrAlreadyRunning = errors.New("session is already processing")

	// ErrInvalidTransition is returned for a lifecycle transition the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// validTransitions encodes the session lifecycle. Error is terminal but
// reachable from every live state; completed is terminal.
var validTransitions = map[papi.State][]papi.State{
	papi.StatePending:      {papi.StatePreviewReady, papi.StateError},
	papi.StatePreviewReady: {papi.StateProcessing, papi.StateError},
	papi.StateProcessing:   {papi.StateCompleted, papi.StateError},
}

// Session is the in-memory lifecycle handle of one measurement session. It
// guards state transitions and publishes progress snapshots; the durable
// record lives in storage and is updated alongside.
type Session struct {
	id        string
	createdAt time.Time

	mu      sync.Mutex
	state   papi.State
	cause   string
	running bool

	version  uint64
	progress atomic.Pointer[papi.Progress]
}

// New creates a session in the pending state with a fresh identifier.
func New() *Session {
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		state:     papi.StatePending,
	}
	s.progress.Store(&papi.Progress{UpdatedAt: s.createdAt})
	return s
}

// Resume creates a session handle for a stored record, so a previously
// created session can continue after calibration was confirmed out of
// process.
func Resume(rec *papi.Session) *Session {
	s := &Session{
		id:        rec.ID,
		createdAt: rec.CreatedAt,
		state:     rec.State,
		cause:     rec.Error,
	}
	s.progress.Store(&papi.Progress{UpdatedAt: time.Now().UTC()})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state and, for StateError, the cause.
func (s *Session) State() (papi.State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.cause
}

// Transition moves the session to the given state. The cause is recorded
// for StateError and must be empty otherwise.
func (s *Session) Transition(to papi.State, cause string) error {
	if to != papi.StateError && cause != "" {
		return fmt.Errorf("cause %q given for non-error state %s", cause, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			s.cause = cause
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

// Progress returns the latest progress snapshot. Snapshots are immutable
// and versioned, so a poller comparing versions can tell a fresh read from
// a repeated one.
func (s *Session) Progress() papi.Progress {
	return *s.progress.Load()
}

// publishProgress atomically replaces the progress snapshot.
func (s *Session) publishProgress(phase papi.Phase, done, total int) {
	v := atomic.AddUint64(&s.version, 1)
	s.progress.Store(&papi.Progress{
		Version:     v,
		Phase:       phase,
		FramesDone:  done,
		FramesTotal: total,
		UpdatedAt:   time.Now().UTC(),
	})
}

// acquireRun marks the processing loop active. The second caller gets
// ErrAlreadyRunning instead of a concurrent second pass over the video.
func (s *Session) acquireRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	return nil
}

func (s *Session) releaseRun() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
