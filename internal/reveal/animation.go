// Package reveal drives the number-reveal animation: a fast random spin, a few
// decelerating ticks, then the drawn number. The animation is presentation
// only; the authoritative draw comes from the store.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

var (
	ErrBusy          = errors.New("an animation is already running")
	ErrClosed        = errors.New("reveal context closed")
	ErrInvalidTarget = errors.New("reveal target out of range")
)

type State int

const (
	StateIdle State = iota
	StateFastSpin
	StateDecelerating
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFastSpin:
		return "fast_spin"
	case StateDecelerating:
		return "decelerating"
	case StateSettled:
		return "settled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Display renders animation frames. Calls come from the animation goroutine.
type Display interface {
	Show(value int)
	StateChanged(state State)
}

type nopDisplay struct{}

func (nopDisplay) Show(int)           {}
func (nopDisplay) StateChanged(State) {}

// Context owns everything an animation needs for one session. It is created
// when the session starts and closed when it ends; closing aborts a running
// animation.
type Context struct {
	clock   clockwork.Clock
	profile Profile
	display Display

	rngMu sync.Mutex
	rng   *rand.Rand

	done   context.Context
	cancel context.CancelFunc
}

type Option func(*Context)

func WithClock(c clockwork.Clock) Option {
	return func(rc *Context) { rc.clock = c }
}

func WithProfile(p Profile) Option {
	return func(rc *Context) { rc.profile = p }
}

func WithDisplay(d Display) Option {
	return func(rc *Context) { rc.display = d }
}

func WithSource(src rand.Source) Option {
	return func(rc *Context) { rc.rng = rand.New(src) }
}

func NewContext(opts ...Option) *Context {
	done, cancel := context.WithCancel(context.Background())
	rc := &Context{
		clock:   clockwork.NewRealClock(),
		profile: DefaultProfile(),
		display: nopDisplay{},
		done:    done,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.rng == nil {
		rc.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rc
}

func (rc *Context) Profile() Profile { return rc.profile }

func (rc *Context) Clock() clockwork.Clock { return rc.clock }

// Close aborts any running animation. Further runs fail with ErrClosed.
func (rc *Context) Close() {
	rc.cancel()
}

func (rc *Context) closed() bool {
	return rc.done.Err() != nil
}

// noise returns a random number in range that differs from avoid.
func (rc *Context) noise(avoid int) int {
	rc.rngMu.Lock()
	defer rc.rngMu.Unlock()
	for {
		n := models.MinNumber + rc.rng.Intn(models.MaxNumber-models.MinNumber+1)
		if n != avoid {
			return n
		}
	}
}

// transitions lists the legal moves; any state may fall back to Idle when the
// run is aborted.
var transitions = map[State][]State{
	StateIdle:         {StateFastSpin},
	StateFastSpin:     {StateDecelerating, StateIdle},
	StateDecelerating: {StateSettled, StateIdle},
	StateSettled:      {StateIdle},
}

// Animation is one run of the state machine toward a target number.
type Animation struct {
	rc     *Context
	target int
	state  atomic.Int32
}

func newAnimation(rc *Context, target int) *Animation {
	return &Animation{rc: rc, target: target}
}

func (a *Animation) State() State {
	return State(a.state.Load())
}

func (a *Animation) transition(to State) {
	from := a.State()
	legal := false
	for _, s := range transitions[from] {
		if s == to {
			legal = true
			break
		}
	}
	if !legal {
		panic(fmt.Sprintf("reveal: illegal transition %s -> %s", from, to))
	}
	a.state.Store(int32(to))
	a.rc.display.StateChanged(to)
}

// wait returns false when ctx ends first.
func (a *Animation) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-a.rc.clock.After(d):
		return true
	}
}

// run plays the whole animation. It returns ctx.Err() when aborted, leaving the
// machine in Idle.
func (a *Animation) run(ctx context.Context, delay time.Duration) error {
	p := a.rc.profile
	abort := func() error {
		if a.State() != StateIdle {
			a.transition(StateIdle)
		}
		return ctx.Err()
	}

	if !a.wait(ctx, delay) {
		return abort()
	}

	a.transition(StateFastSpin)
	clock := a.rc.clock
	deadline := clock.Now().Add(p.FastSpin)
	for remaining := p.FastSpin; remaining > 0; remaining = deadline.Sub(clock.Now()) {
		a.rc.display.Show(a.rc.noise(0))
		if !a.wait(ctx, min(p.FastSpinInterval, remaining)) {
			return abort()
		}
	}

	a.transition(StateDecelerating)
	for i := 1; i <= p.Ticks; i++ {
		if !a.wait(ctx, p.TickInterval) {
			return abort()
		}
		if i == p.Ticks {
			a.rc.display.Show(a.target)
		} else {
			a.rc.display.Show(a.rc.noise(a.target))
		}
	}

	a.transition(StateSettled)
	return nil
}
