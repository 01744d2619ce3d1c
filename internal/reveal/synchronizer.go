package reveal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// Result is delivered once per run, when the animation settles or aborts.
type Result struct {
	Number int
	Err    error
}

// Synchronizer runs at most one animation at a time on a Context.
type Synchronizer struct {
	rc      *Context
	running atomic.Bool

	mu      sync.Mutex
	current *Animation
}

func NewSynchronizer(rc *Context) *Synchronizer {
	return &Synchronizer{rc: rc}
}

// Run starts an animation toward number after delay and returns immediately.
// The returned channel yields exactly one Result and is then closed.
func (s *Synchronizer) Run(ctx context.Context, number int, delay time.Duration) (<-chan Result, error) {
	if !models.IsValidNumber(number) {
		return nil, ErrInvalidTarget
	}
	if s.rc.closed() {
		return nil, ErrClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.rc.done, cancel)

	anim := newAnimation(s.rc, number)
	s.mu.Lock()
	s.current = anim
	s.mu.Unlock()

	out := make(chan Result, 1)
	go func() {
		err := anim.run(runCtx, delay)
		stop()
		cancel()
		if err != nil && s.rc.closed() {
			err = ErrClosed
		}
		// Free the slot before publishing so the receiver can start the next run.
		s.running.Store(false)
		out <- Result{Number: number, Err: err}
		close(out)
	}()
	return out, nil
}

// Busy reports whether an animation is in progress.
func (s *Synchronizer) Busy() bool {
	return s.running.Load()
}

// State is the state of the latest animation, Idle if none ran yet.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return StateIdle
	}
	return s.current.State()
}
