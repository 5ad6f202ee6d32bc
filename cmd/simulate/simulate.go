package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/addrselect/internal/loadbalancer"
	"github.com/angeloszaimis/addrselect/internal/selector"
)

var errInjected = errors.New("injected failure")

// endpointSpec is a simulated endpoint and the share of calls it fails.
type endpointSpec struct {
	addr     selector.Address
	failRate float64
}

// parseEndpoint reads host:port=rate. The rate defaults to 0.
func parseEndpoint(s string) (endpointSpec, error) {
	hostport, rate, hasRate := strings.Cut(s, "=")

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return endpointSpec{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return endpointSpec{}, fmt.Errorf("endpoint %q: invalid port", s)
	}

	spec := endpointSpec{addr: selector.Address{Host: host, Port: port}}
	if hasRate {
		spec.failRate, err = strconv.ParseFloat(rate, 64)
		if err != nil || spec.failRate < 0 || spec.failRate > 1 {
			return endpointSpec{}, fmt.Errorf("endpoint %q: fail rate must be within [0, 1]", s)
		}
	}
	return spec, nil
}

type simulation struct {
	algorithm   string
	options     selector.Options
	endpoints   []endpointSpec
	requests    int
	concurrency int
	attempts    int
	// tick is the simulated time between rounds of concurrency requests.
	tick time.Duration
	seed uint64
}

type endpointReport struct {
	FailRate float64 `json:"fail_rate"`
	Calls    int     `json:"calls"`
	Failures int     `json:"failures"`
	Weight   *int    `json:"weight,omitempty"`
	Dead     bool    `json:"dead"`
}

type report struct {
	Algorithm string                     `json:"algorithm"`
	Requests  int                        `json:"requests"`
	Success   int                        `json:"success"`
	Failure   int                        `json:"failure"`
	Simulated time.Duration              `json:"simulated_ns"`
	Endpoints map[string]*endpointReport `json:"endpoints"`
}

// run drives a selector through the load balancer against endpoints that
// fail at their configured rate. Time is simulated so cool-downs pass
// without waiting.
func run(ctx context.Context, log *slog.Logger, sim simulation) (*report, error) {
	clock := clockwork.NewFakeClock()

	sel, err := selector.New(sim.algorithm, sim.options,
		selector.WithClock(clock),
		selector.WithRand(rand.New(rand.NewPCG(sim.seed, sim.seed+1))),
		selector.WithLogger(log.With(slog.String("component", "selector"))),
	)
	if err != nil {
		return nil, err
	}

	rep := &report{
		Algorithm: sim.algorithm,
		Requests:  sim.requests,
		Endpoints: make(map[string]*endpointReport, len(sim.endpoints)),
	}
	failRates := make(map[selector.Address]float64, len(sim.endpoints))
	for _, e := range sim.endpoints {
		sel.AddAddr(e.addr.Host, e.addr.Port)
		failRates[e.addr] = e.failRate
		rep.Endpoints[e.addr.String()] = &endpointReport{FailRate: e.failRate}
	}

	lb := loadbalancer.NewLoadBalancer(sel, log,
		loadbalancer.WithAttempts(sim.attempts),
		loadbalancer.WithBackoff(0),
		loadbalancer.WithClock(clock))

	var (
		mutex sync.Mutex
		dice  = rand.New(rand.NewPCG(sim.seed^0xdeadbeef, sim.seed))
	)

	call := func(ctx context.Context, addr selector.Address) error {
		mutex.Lock()
		defer mutex.Unlock()

		er := rep.Endpoints[addr.String()]
		er.Calls++
		if dice.Float64() < failRates[addr] {
			er.Failures++
			return errInjected
		}
		return nil
	}

	start := clock.Now()
	for sent := 0; sent < sim.requests; {
		batch := min(sim.concurrency, sim.requests-sent)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < batch; i++ {
			g.Go(func() error {
				_, err := lb.Do(gctx, call)

				mutex.Lock()
				defer mutex.Unlock()
				switch {
				case err == nil:
					rep.Success++
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
					return err
				default:
					rep.Failure++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		sent += batch
		clock.Advance(sim.tick)
	}
	rep.Simulated = clock.Since(start)

	if w, ok := sel.(*selector.Weighted); ok {
		for k, weight := range w.Weights() {
			rep.Endpoints[k].Weight = &weight
		}
		for _, k := range w.Dead() {
			if er, ok := rep.Endpoints[k]; ok {
				er.Dead = true
			}
		}
	}

	return rep, nil
}
