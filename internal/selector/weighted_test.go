package selector_test

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/addrselect/internal/metrics"
	"github.com/angeloszaimis/addrselect/internal/selector"
)

var _ = Describe("Weighted", func() {
	var (
		clock *clockwork.FakeClock
		sink  *recordingSink
		sel   *selector.Weighted
		opts  selector.Options
	)

	const (
		hostA = "10.0.0.1"
		hostB = "10.0.0.2"
		port  = 9090
	)

	keyA := selector.Address{Host: hostA, Port: port}.String()

	BeforeEach(func() {
		clock = clockwork.NewFakeClockAt(epoch)
		sink = &recordingSink{}
		opts = selector.Options{
			InitWeight:       10,
			FailedTimesBound: 5,
			WeightFloorBound: 0,
			DecreaseDelta:    2,
			IncreaseDelta:    1,
			Interval:         60,
			AdjustInterval:   5,
			KeepTime:         30,
			MaxStep:          1,
		}
	})

	JustBeforeEach(func() {
		sel = mustWeighted(opts,
			selector.WithClock(clock),
			selector.WithRand(seeded(1)),
			selector.WithEventSink(sink))
	})

	failTimes := func(n int) {
		for i := 0; i < n; i++ {
			sel.Failed(hostA, port)
		}
	}

	// decreaseOnce waits out the debounce window, then fails A until its
	// weight changes.
	decreaseOnce := func() {
		clock.Advance(time.Duration(opts.AdjustInterval+1) * time.Second)
		before := weightOf(sel, hostA, port)
		for i := 0; i < opts.FailedTimesBound+1 && weightOf(sel, hostA, port) == before; i++ {
			sel.Failed(hostA, port)
		}
		Expect(weightOf(sel, hostA, port)).To(BeNumerically("<", before))
	}

	Describe("NewWeighted", func() {
		It("should reject invalid options", func() {
			opts.InitWeight = 0
			_, err := selector.NewWeighted(opts)
			Expect(err).To(HaveOccurred())
		})

		It("should start with an empty pool", func() {
			Expect(sel.Get()).To(BeEmpty())
			Expect(sel.Dead()).To(BeEmpty())
		})
	})

	Describe("Registry", func() {
		It("should create state at full weight with unset timestamps", func() {
			sel.AddAddr(hostA, port)

			st, ok := sel.State(hostA, port)
			Expect(ok).To(BeTrue())
			Expect(st).To(Equal(selector.EndpointState{
				Address:          selector.Address{Host: hostA, Port: port},
				Weight:           10,
				FirstFailedTime:  -1,
				LatestAdjustTime: -1,
			}))
		})

		It("should keep registration order", func() {
			sel.AddAddr(hostA, port)
			sel.AddAddr(hostB, port)
			sel.AddAddr(hostA, port+1)
			sel.RemoveAddr(hostB, port)

			Expect(sel.Get()).To(Equal([]selector.Address{
				{Host: hostA, Port: port},
				{Host: hostA, Port: port + 1},
			}))
		})

		It("should treat repeated AddAddr as a single call", func() {
			sel.AddAddr(hostA, port)
			failTimes(3)
			sel.AddAddr(hostA, port)

			Expect(sel.Get()).To(HaveLen(1))
			st, _ := sel.State(hostA, port)
			Expect(st.FailedCount).To(Equal(3))
		})

		It("should treat repeated RemoveAddr as a single call", func() {
			sel.AddAddr(hostA, port)
			sel.AddAddr(hostB, port)
			sel.RemoveAddr(hostA, port)
			sel.RemoveAddr(hostA, port)

			Expect(sel.Get()).To(Equal([]selector.Address{{Host: hostB, Port: port}}))
		})

		It("should leave no trace after add then remove", func() {
			sel.AddAddr(hostB, port)
			beforeGet, beforeWeights, beforeDead := sel.Get(), sel.Weights(), sel.Dead()

			sel.AddAddr(hostA, port)
			sel.RemoveAddr(hostA, port)

			_, ok := sel.State(hostA, port)
			Expect(ok).To(BeFalse())
			Expect(sel.Get()).To(Equal(beforeGet))
			Expect(sel.Weights()).To(Equal(beforeWeights))
			Expect(sel.Dead()).To(Equal(beforeDead))
		})

		It("should return a copy from Get", func() {
			sel.AddAddr(hostA, port)
			snapshot := sel.Get()
			snapshot[0].Host = "mutated"

			Expect(sel.Get()[0].Host).To(Equal(hostA))
		})

		It("should emit add and remove events", func() {
			sel.AddAddr(hostA, port)
			sel.RemoveAddr(hostA, port)

			Expect(sink.Types(keyA)).To(Equal([]metrics.EventType{
				metrics.EventAddrAdded,
				metrics.EventAddrRemoved,
			}))
		})
	})

	Describe("Failed", func() {
		JustBeforeEach(func() {
			sel.AddAddr(hostA, port)
		})

		It("should ignore unknown endpoints", func() {
			sel.Failed(hostB, port)

			_, ok := sel.State(hostB, port)
			Expect(ok).To(BeFalse())
			Expect(sel.Get()).To(HaveLen(1))
		})

		It("should count failures below the threshold", func() {
			failTimes(4)

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(10))
			Expect(st.FailedCount).To(Equal(4))
			Expect(st.FirstFailedTime).To(Equal(epoch.Unix()))
		})

		It("should decrease the weight when the threshold is reached", func() {
			failTimes(5)

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(8))
			Expect(st.FailedCount).To(BeZero())
			Expect(st.FirstFailedTime).To(Equal(int64(-1)))
			Expect(st.LatestAdjustTime).To(Equal(epoch.Unix()))
		})

		It("should restart the window once it expires", func() {
			failTimes(4)
			clock.Advance(61 * time.Second)
			sel.Failed(hostA, port)

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(10))
			Expect(st.FailedCount).To(Equal(1))
			Expect(st.FirstFailedTime).To(Equal(epoch.Add(61 * time.Second).Unix()))
		})

		It("should keep counting at the window boundary", func() {
			failTimes(4)
			clock.Advance(60 * time.Second)
			sel.Failed(hostA, port)

			Expect(weightOf(sel, hostA, port)).To(Equal(8))
		})

		It("should debounce failures right after a decrease", func() {
			failTimes(5)
			Expect(weightOf(sel, hostA, port)).To(Equal(8))

			clock.Advance(5 * time.Second)
			failTimes(20)

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(8))
			Expect(st.FailedCount).To(BeZero())
		})

		It("should scale the threshold down with the weight", func() {
			failTimes(5)
			clock.Advance(6 * time.Second)

			// 5 * 8 / 10 = 4 failures
			failTimes(3)
			Expect(weightOf(sel, hostA, port)).To(Equal(8))
			sel.Failed(hostA, port)
			Expect(weightOf(sel, hostA, port)).To(Equal(6))
		})

		It("should quarantine an endpoint whose weight reaches zero", func() {
			for weightOf(sel, hostA, port) > 0 {
				decreaseOnce()
			}

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(BeZero())
			Expect(st.Dead).To(BeTrue())
			Expect(sel.Dead()).To(ConsistOf(keyA))
			Expect(sink.Types(keyA)).To(ContainElement(metrics.EventQuarantined))
		})

		Context("with a positive weight floor", func() {
			BeforeEach(func() {
				opts.WeightFloorBound = 3
			})

			It("should never go below the floor nor quarantine", func() {
				for i := 0; i < 10; i++ {
					clock.Advance(6 * time.Second)
					failTimes(5)
				}

				Expect(weightOf(sel, hostA, port)).To(Equal(3))
				Expect(sel.Dead()).To(BeEmpty())
			})
		})
	})

	Describe("Succeed", func() {
		JustBeforeEach(func() {
			sel.AddAddr(hostA, port)
		})

		It("should ignore endpoints that were never adjusted", func() {
			clock.Advance(time.Hour)
			sel.Succeed(hostA, port)

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(10))
			Expect(st.LatestAdjustTime).To(Equal(int64(-1)))
		})

		It("should ignore unknown endpoints", func() {
			sel.Succeed(hostB, port)
			_, ok := sel.State(hostB, port)
			Expect(ok).To(BeFalse())
		})

		It("should not reward before the cool-down elapses", func() {
			failTimes(5)
			for i := 0; i <= 30; i++ {
				sel.Succeed(hostA, port)
				Expect(weightOf(sel, hostA, port)).To(Equal(8))
				if i < 30 {
					clock.Advance(time.Second)
				}
			}
		})

		It("should reward after the cool-down and restart it", func() {
			failTimes(5)
			clock.Advance(31 * time.Second)

			sel.Succeed(hostA, port)
			Expect(weightOf(sel, hostA, port)).To(Equal(9))

			sel.Succeed(hostA, port)
			Expect(weightOf(sel, hostA, port)).To(Equal(9))

			clock.Advance(31 * time.Second)
			sel.Succeed(hostA, port)
			Expect(weightOf(sel, hostA, port)).To(Equal(10))

			clock.Advance(31 * time.Second)
			sel.Succeed(hostA, port)
			Expect(weightOf(sel, hostA, port)).To(Equal(10))
		})
	})

	Describe("Next", func() {
		It("should fail on an empty pool", func() {
			_, err := sel.Next()
			Expect(err).To(MatchError(selector.ErrEmptyPool))
			Expect(errors.Is(err, selector.ErrNoAddress)).To(BeTrue())
		})

		It("should rotate through healthy endpoints", func() {
			sel.AddAddr(hostA, port)
			sel.AddAddr(hostB, port)

			var got []string
			for i := 0; i < 4; i++ {
				addr, err := sel.Next()
				Expect(err).NotTo(HaveOccurred())
				got = append(got, addr.Host)
			}
			Expect(got).To(Equal([]string{hostB, hostA, hostB, hostA}))
		})

		It("should admit an endpoint weight times out of every InitWeight visits", func() {
			sel.AddAddr(hostA, port)
			failTimes(5)
			Expect(weightOf(sel, hostA, port)).To(Equal(8))

			accepted := 0
			for i := 0; i < 10*opts.InitWeight; i++ {
				if _, err := sel.Next(); err == nil {
					accepted++
				} else {
					Expect(err).To(MatchError(selector.ErrNoAddress))
				}
			}
			Expect(accepted).To(Equal(8 * 10))
		})

		It("should keep request counts below InitWeight", func() {
			sel.AddAddr(hostA, port)
			for i := 0; i < 25; i++ {
				_, _ = sel.Next()
				st, _ := sel.State(hostA, port)
				Expect(st.RequestCount).To(BeNumerically(">=", 0))
				Expect(st.RequestCount).To(BeNumerically("<", opts.InitWeight))
			}
		})

		It("should drop removed endpoints from quarantine", func() {
			sel.AddAddr(hostA, port)
			sel.AddAddr(hostB, port)
			for weightOf(sel, hostA, port) > 0 {
				decreaseOnce()
			}
			sel.RemoveAddr(hostA, port)
			Expect(sel.Dead()).To(ConsistOf(keyA))

			_, err := sel.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(sel.Dead()).To(BeEmpty())
		})

		It("should not revive a re-added endpoint a second time", func() {
			sel.AddAddr(hostA, port)
			sel.AddAddr(hostB, port)
			for weightOf(sel, hostA, port) > 0 {
				decreaseOnce()
			}
			sel.RemoveAddr(hostA, port)
			sel.AddAddr(hostA, port)

			_, err := sel.Next()
			Expect(err).NotTo(HaveOccurred())

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(10))
			Expect(st.LatestAdjustTime).To(Equal(int64(-1)))
			Expect(sel.Dead()).To(BeEmpty())
		})

		Context("with random steps", func() {
			BeforeEach(func() {
				opts.MaxStep = 3
			})

			It("should be reproducible for the same seed", func() {
				picks := func() []selector.Address {
					s := mustWeighted(opts, selector.WithClock(clock), selector.WithRand(seeded(42)))
					for i := 0; i < 5; i++ {
						s.AddAddr("10.0.1.1", 8000+i)
					}
					var out []selector.Address
					for i := 0; i < 50; i++ {
						addr, err := s.Next()
						Expect(err).NotTo(HaveOccurred())
						out = append(out, addr)
					}
					return out
				}

				Expect(picks()).To(Equal(picks()))
			})
		})
	})

	Describe("Quarantine and revival", func() {
		JustBeforeEach(func() {
			sel.AddAddr(hostA, port)
			sel.AddAddr(hostB, port)
			for weightOf(sel, hostA, port) > 0 {
				decreaseOnce()
			}
		})

		It("should never pick a quarantined endpoint during the cool-down", func() {
			for i := 0; i < 30; i++ {
				addr, err := sel.Next()
				Expect(err).NotTo(HaveOccurred())
				Expect(addr.Host).To(Equal(hostB))
				clock.Advance(time.Second)
			}
			Expect(sel.Dead()).To(ConsistOf(keyA))
		})

		It("should revive on the first Next after the cool-down", func() {
			clock.Advance(31 * time.Second)
			_, err := sel.Next()
			Expect(err).NotTo(HaveOccurred())

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(1))
			Expect(st.Dead).To(BeFalse())
			Expect(st.LatestAdjustTime).To(Equal(clock.Now().Unix()))
			Expect(sink.Types(keyA)).To(ContainElement(metrics.EventRevived))
		})

		It("should make a revived endpoint eligible again", func() {
			clock.Advance(31 * time.Second)

			seen := false
			for i := 0; i < 4*opts.InitWeight && !seen; i++ {
				addr, err := sel.Next()
				if err == nil && addr.Host == hostA {
					seen = true
				}
			}
			Expect(seen).To(BeTrue())
		})

		It("should lift quarantine through a rewarded success", func() {
			clock.Advance(31 * time.Second)
			sel.Succeed(hostA, port)

			st, _ := sel.State(hostA, port)
			Expect(st.Weight).To(Equal(1))
			Expect(st.Dead).To(BeFalse())
		})

		It("should return ErrNoAddress when only quarantined endpoints remain", func() {
			sel.RemoveAddr(hostB, port)
			_, err := sel.Next()
			Expect(err).To(MatchError(selector.ErrNoAddress))
			Expect(errors.Is(err, selector.ErrEmptyPool)).To(BeFalse())
		})
	})

	Describe("Clock rewind", func() {
		It("should treat negative elapsed time as within every window", func() {
			rc := &rewindClock{now: epoch}
			s := mustWeighted(opts, selector.WithClock(rc), selector.WithRand(seeded(1)))
			s.AddAddr(hostA, port)
			for i := 0; i < 5; i++ {
				s.Failed(hostA, port)
			}
			Expect(weightOf(s, hostA, port)).To(Equal(8))

			rc.Set(epoch.Add(-time.Hour))
			for i := 0; i < 10; i++ {
				s.Failed(hostA, port)
				s.Succeed(hostA, port)
			}
			Expect(weightOf(s, hostA, port)).To(Equal(8))
		})
	})
})
