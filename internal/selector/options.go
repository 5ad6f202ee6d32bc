package selector

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jonboulle/clockwork"

	"github.com/angeloszaimis/addrselect/internal/metrics"
)

const (
	AlgorithmWeighted   = "weighted"
	AlgorithmRoundRobin = "round-robin"
)

// Options tunes the weighted algorithm. Times are whole seconds.
type Options struct {
	// Interval is the length of the failure counting window.
	Interval int64
	// FailedTimesBound is the number of failures tolerated per window at
	// full weight before the weight is decreased.
	FailedTimesBound int
	// WeightFloorBound is the minimum weight. Endpoints are only
	// quarantined when it is 0.
	WeightFloorBound int
	// KeepTime is the cool-down an endpoint must hold after an adjustment
	// before it is rewarded or revived.
	KeepTime int64
	// AdjustInterval is the debounce window after a weight change during
	// which failures are ignored.
	AdjustInterval int64
	DecreaseDelta  int
	IncreaseDelta  int
	// InitWeight is the starting and maximum weight, and the modulus of the
	// admission test.
	InitWeight int
	// MaxStep bounds the random index jump per selection attempt.
	MaxStep int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Interval:         60,
		FailedTimesBound: 5,
		WeightFloorBound: 0,
		KeepTime:         30,
		AdjustInterval:   5,
		DecreaseDelta:    2,
		IncreaseDelta:    1,
		InitWeight:       10,
		MaxStep:          1,
	}
}

// Validate reports option combinations the algorithm cannot run with.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Interval, validation.Min(int64(0))),
		validation.Field(&o.FailedTimesBound, validation.Min(0)),
		validation.Field(&o.WeightFloorBound, validation.Min(0), validation.Max(o.InitWeight)),
		validation.Field(&o.KeepTime, validation.Min(int64(0))),
		validation.Field(&o.AdjustInterval, validation.Min(int64(0))),
		validation.Field(&o.DecreaseDelta, validation.Min(0)),
		validation.Field(&o.IncreaseDelta, validation.Min(0)),
		validation.Field(&o.InitWeight, validation.Required, validation.Min(1)),
		validation.Field(&o.MaxStep, validation.Required, validation.Min(1)),
	)
}

// EventSink receives selector events. Emit must not block.
type EventSink interface {
	Emit(event metrics.MetricEvent)
}

type settings struct {
	clock  clockwork.Clock
	rand   *rand.Rand
	logger *slog.Logger
	sink   EventSink
}

// Option configures the collaborators of a selector.
type Option func(*settings)

// WithClock sets the time source. Only whole seconds are used.
func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithRand sets the pseudorandom source used for index steps.
func WithRand(r *rand.Rand) Option {
	return func(s *settings) {
		s.rand = r
	}
}

// WithLogger sets the logger for weight changes and quarantine events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithEventSink sets where selection and adjustment events are sent.
func WithEventSink(sink EventSink) Option {
	return func(s *settings) {
		s.sink = sink
	}
}

func newSettings(opts []Option) settings {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}

	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	return s
}

// New creates a selector for the named algorithm.
func New(algorithm string, options Options, opts ...Option) (Selector, error) {
	switch algorithm {
	case AlgorithmWeighted:
		return NewWeighted(options, opts...)
	case AlgorithmRoundRobin:
		return NewRoundRobin(opts...), nil
	default:
		return nil, fmt.Errorf("selector: unknown algorithm %q", algorithm)
	}
}
