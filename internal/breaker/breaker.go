package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

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

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests int
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error except context cancellation.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
}

// Breaker guards calls to a single upstream integration.
type Breaker struct {
	name             string
	maxFailures      int
	openTimeout      time.Duration
	halfOpenRequests int
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)

	mutex        sync.Mutex
	state        State
	failures     int
	probes       int
	lastFailure  time.Time
	lastChange   time.Time
	total        int64
	totalFailed  int64
	totalOK      int64
	totalReject  int64
	stateChanges int64

	now    func() time.Time
	logger *logrus.Logger
}

func New(cfg Config, logger *logrus.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}

	return &Breaker{
		name:             cfg.Name,
		maxFailures:      cfg.MaxFailures,
		openTimeout:      cfg.OpenTimeout,
		halfOpenRequests: cfg.HalfOpenRequests,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
		state:            StateClosed,
		now:              time.Now,
		logger:           logger,
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn unless the breaker is open. Errors returned by fn are
// passed through unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if err != nil && b.isFailure(err) {
		b.totalFailed++
		b.onFailure()
		return err
	}
	b.totalOK++
	b.onSuccess()
	return err
}

func (b *Breaker) allow() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.openTimeout {
			b.totalReject++
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probes = 0
	}

	if b.state == StateHalfOpen {
		if b.probes >= b.halfOpenRequests {
			b.totalReject++
			return ErrOpen
		}
		b.probes++
	}
	b.total++
	return nil
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
		b.probes = 0
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.probes = 0
	}
}

// setState must be called with the mutex held.
func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.stateChanges++
	b.lastChange = b.now()

	b.logger.WithFields(logrus.Fields{
		"integration": b.name,
		"from_state":  from.String(),
		"to_state":    to.String(),
	}).Info("Circuit breaker state changed")

	if b.onStateChange != nil {
		go b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"integration": b.name,
				"panic":       r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	b.onStateChange(b.name, from, to)
}

func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of a breaker, served by the health endpoint.
type Snapshot struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	Failures        int        `json:"consecutive_failures"`
	MaxFailures     int        `json:"max_failures"`
	TotalRequests   int64      `json:"total_requests"`
	TotalFailures   int64      `json:"total_failures"`
	TotalSuccesses  int64      `json:"total_successes"`
	TotalRejected   int64      `json:"total_rejected"`
	StateChanges    int64      `json:"state_changes"`
	LastFailure     *time.Time `json:"last_failure,omitempty"`
	LastStateChange *time.Time `json:"last_state_change,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s := Snapshot{
		Name:           b.name,
		State:          b.state,
		Failures:       b.failures,
		MaxFailures:    b.maxFailures,
		TotalRequests:  b.total,
		TotalFailures:  b.totalFailed,
		TotalSuccesses: b.totalOK,
		TotalRejected:  b.totalReject,
		StateChanges:   b.stateChanges,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	if !b.lastChange.IsZero() {
		t := b.lastChange
		s.LastStateChange = &t
	}
	return s
}

func (b *Breaker) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.setState(StateClosed)
	b.failures = 0
	b.probes = 0
	b.lastFailure = time.Time{}
}

func (b *Breaker) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return fmt.Sprintf("Breaker(name=%s, state=%s, failures=%d/%d)",
		b.name, b.state, b.failures, b.maxFailures)
}
