package loadbalancer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/angeloszaimis/addrselect/internal/selector"
)

// CallFunc performs one outbound call against addr.
type CallFunc func(ctx context.Context, addr selector.Address) error

// LoadBalancer runs calls against endpoints picked by a selector and feeds
// the outcome of every call back into it.
type LoadBalancer struct {
	selector selector.Selector
	logger   *slog.Logger
	clock    clockwork.Clock
	attempts int
	backoff  time.Duration
}

type Option func(*LoadBalancer)

// WithAttempts bounds how many endpoints a call is tried against.
func WithAttempts(n int) Option {
	return func(lb *LoadBalancer) {
		if n > 0 {
			lb.attempts = n
		}
	}
}

// WithBackoff sets the pause before retrying after the selector found no
// address.
func WithBackoff(d time.Duration) Option {
	return func(lb *LoadBalancer) {
		lb.backoff = d
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(lb *LoadBalancer) {
		lb.clock = clock
	}
}

func NewLoadBalancer(sel selector.Selector, logger *slog.Logger, opts ...Option) *LoadBalancer {
	lb := &LoadBalancer{
		selector: sel,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(lb)
	}
	return lb
}

// Do picks an endpoint and runs call against it, reporting success or
// failure to the selector. A failed call is retried on the next pick; when
// the selector has no address the retry waits for the backoff first. It
// returns the address of the successful call.
func (lb *LoadBalancer) Do(ctx context.Context, call CallFunc) (selector.Address, error) {
	var lastErr error

	for attempt := 1; attempt <= lb.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return selector.Address{}, err
		}

		addr, err := lb.selector.Next()
		if err != nil {
			lastErr = err
			lb.logger.Debug("No address available",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))

			if attempt < lb.attempts {
				if err := lb.wait(ctx); err != nil {
					return selector.Address{}, err
				}
			}
			continue
		}

		if err := call(ctx, addr); err != nil {
			// The caller gave up; the endpoint is not to blame.
			if ctx.Err() != nil {
				return selector.Address{}, err
			}

			lastErr = err
			lb.selector.Failed(addr.Host, addr.Port)
			lb.logger.Warn("Call failed",
				slog.String("endpoint", addr.String()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		lb.selector.Succeed(addr.Host, addr.Port)
		return addr, nil
	}

	return selector.Address{}, fmt.Errorf("loadbalancer: %d attempts failed: %w", lb.attempts, lastErr)
}

func (lb *LoadBalancer) wait(ctx context.Context) error {
	if lb.backoff <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lb.clock.After(lb.backoff):
		return nil
	}
}

func (lb *LoadBalancer) Selector() selector.Selector {
	return lb.selector
}
