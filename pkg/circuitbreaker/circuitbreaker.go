package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open, or when half-open probes are exhausted.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold successful probes close it again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
	}
}

type Stats struct {
	State           State
	Failures        int
	Successes       int
	Rejected        int64
	LastFailure     time.Time
	LastStateChange time.Time
}

// Breaker stops calling a failing dependency for a while after a run of
// consecutive failures. Context cancellations of the caller do not count
// as failures.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	rejected    int64
	lastFailure time.Time
	changedAt   time.Time

	onStateChange func(from, to State)
}

func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	return &Breaker{cfg: cfg, now: time.Now, changedAt: time.Now()}
}

// OnStateChange registers fn to be called after every transition. fn runs
// synchronously outside the breaker's lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Do calls fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions returning a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	switch {
	case err == nil:
		b.record(true)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release()
	default:
		b.record(false)
	}
	return result, err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		Rejected:        b.rejected,
		LastFailure:     b.lastFailure,
		LastStateChange: b.changedAt,
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := b.transition(StateClosed)
	b.mu.Unlock()
	notify()
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	notify := func() {}
	defer func() {
		b.mu.Unlock()
		notify()
	}()

	if b.state == StateOpen {
		if b.now().Sub(b.changedAt) < b.cfg.OpenTimeout {
			b.rejected++
			return ErrOpen
		}
		notify = b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.MaxProbes {
			b.rejected++
			return ErrOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	notify := func() {}
	defer func() {
		b.mu.Unlock()
		notify()
	}()

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if ok {
		b.failures = 0
		b.successes++
		if b.state == StateHalfOpen && b.successes >= b.cfg.SuccessThreshold {
			notify = b.transition(StateClosed)
		}
		return
	}

	b.successes = 0
	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		notify = b.transition(StateOpen)
	}
}

// transition must be called with mu held; the returned func fires the
// callback and must be called after unlocking.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	b.changedAt = b.now()
	b.failures = 0
	b.successes = 0
	b.probes = 0

	fn := b.onStateChange
	if from == to || fn == nil {
		return func() {}
	}
	return func() { fn(from, to) }
}
