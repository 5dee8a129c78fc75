package idle

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Strategy decides how a polling loop waits when there is no work.
//
// Implementations are not safe for concurrent use; each loop owns one.
type Strategy interface {
	// Reset clears any accumulated backoff state.
	Reset()

	// Idle waits once.
	Idle()

	// IdleWork waits only if workCount is zero, and resets otherwise.
	IdleWork(workCount int)
}

// NoOp never waits.
type NoOp struct{}

func (NoOp) Reset()       {}
func (NoOp) Idle()        {}
func (NoOp) IdleWork(int) {}

// BusySpin spins without yielding the processor's goroutine slot.
type BusySpin struct{}

func (BusySpin) Reset()       {}
func (BusySpin) Idle()        {}
func (BusySpin) IdleWork(int) {}

// Yielding yields the processor to other goroutines.
type Yielding struct{}

func (Yielding) Reset() {}
func (Yielding) Idle()  { runtime.Gosched() }
func (y Yielding) IdleWork(workCount int) {
	if workCount == 0 {
		y.Idle()
	}
}

// Sleeping sleeps for a fixed period.
type Sleeping struct {
	Period time.Duration
}

func (Sleeping) Reset() {}

func (s Sleeping) Idle() {
	time.Sleep(s.Period)
}

func (s Sleeping) IdleWork(workCount int) {
	if workCount == 0 {
		s.Idle()
	}
}

// BackoffConfig configures a Backoff strategy.
type BackoffConfig struct {
	MaxSpins  int
	MaxYields int
	MinPark   time.Duration
	MaxPark   time.Duration
}

// Backoff defaults.
const (
	DefaultMaxSpins  = 10
	DefaultMaxYields = 5
	DefaultMinPark   = time.Microsecond
	DefaultMaxPark   = time.Millisecond
)

type backoffState int

const (
	stateNotIdle backoffState = iota
	stateSpinning
	stateYielding
	stateParking
)

// Backoff spins, then yields, then sleeps with exponentially growing
// periods capped at MaxPark.
type Backoff struct {
	cfg    BackoffConfig
	state  backoffState
	spins  int
	yields int
	park   time.Duration
	sleep  func(time.Duration)
}

// NewBackoff creates a Backoff strategy; zero fields take defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.MaxSpins <= 0 {
		cfg.MaxSpins = DefaultMaxSpins
	}
	if cfg.MaxYields <= 0 {
		cfg.MaxYields = DefaultMaxYields
	}
	if cfg.MinPark <= 0 {
		cfg.MinPark = DefaultMinPark
	}
	if cfg.MaxPark < cfg.MinPark {
		cfg.MaxPark = max(DefaultMaxPark, cfg.MinPark)
	}
	return &Backoff{cfg: cfg, sleep: time.Sleep}
}

// Reset returns the strategy to the spinning phase.
func (b *Backoff) Reset() {
	b.state = stateNotIdle
	b.spins = 0
	b.yields = 0
	b.park = b.cfg.MinPark
}

// Idle advances one step of the backoff.
func (b *Backoff) Idle() {
	switch b.state {
	case stateNotIdle:
		b.state = stateSpinning
		b.spins++
	case stateSpinning:
		b.spins++
		if b.spins > b.cfg.MaxSpins {
			b.state = stateYielding
			b.yields = 0
		}
	case stateYielding:
		b.yields++
		if b.yields > b.cfg.MaxYields {
			b.state = stateParking
			b.park = b.cfg.MinPark
		} else {
			runtime.Gosched()
		}
	case stateParking:
		b.sleep(b.park)
		b.park = min(b.park*2, b.cfg.MaxPark)
	}
}

// IdleWork implements Strategy.
func (b *Backoff) IdleWork(workCount int) {
	if workCount > 0 {
		b.Reset()
		return
	}
	b.Idle()
}

// Parse builds a strategy from its configuration name: noop, busy-spin,
// yield, sleep, or backoff. period is used by sleep; backoff uses cfg.
func Parse(name string, period time.Duration, cfg BackoffConfig) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "noop":
		return NoOp{}, nil
	case "busy-spin", "busyspin":
		return BusySpin{}, nil
	case "yield", "yielding":
		return Yielding{}, nil
	case "sleep", "sleeping":
		if period <= 0 {
			period = DefaultMaxPark
		}
		return Sleeping{Period: period}, nil
	case "", "backoff":
		return NewBackoff(cfg), nil
	default:
		return nil, fmt.Errorf("idle: unknown strategy %q", name)
	}
}
