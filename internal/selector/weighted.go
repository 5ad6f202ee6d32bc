package selector

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/angeloszaimis/addrselect/internal/metrics"
)

// unset marks a timestamp that has not been recorded yet.
const unset int64 = -1

// endpoint holds the health bookkeeping of one registered address.
type endpoint struct {
	addr             Address
	weight           int
	failedCount      int
	firstFailedTime  int64
	latestAdjustTime int64
	requestCount     int
}

// EndpointState is a point-in-time copy of an endpoint's bookkeeping.
// Timestamps are unix seconds, -1 when unset.
type EndpointState struct {
	Address          Address `json:"address"`
	Weight           int     `json:"weight"`
	FailedCount      int     `json:"failed_count"`
	FirstFailedTime  int64   `json:"first_failed_time"`
	LatestAdjustTime int64   `json:"latest_adjust_time"`
	RequestCount     int     `json:"request_count"`
	Dead             bool    `json:"dead"`
}

// Weighted selects endpoints with a probability proportional to a weight
// that drops when an endpoint keeps failing and recovers once it has been
// stable for a cool-down period. Endpoints whose weight reaches zero are
// quarantined until revived by a later Next call.
type Weighted struct {
	mutex     sync.Mutex
	opts      Options
	address   []Address
	endpoints map[string]*endpoint
	dead      map[string]struct{}
	index     int

	clock  clockwork.Clock
	rand   *rand.Rand
	logger *slog.Logger
	sink   EventSink
}

// NewWeighted creates an empty weighted selector.
func NewWeighted(options Options, opts ...Option) (*Weighted, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	s := newSettings(opts)
	return &Weighted{
		opts:      options,
		endpoints: make(map[string]*endpoint),
		dead:      make(map[string]struct{}),
		clock:     s.clock,
		rand:      s.rand,
		logger:    s.logger,
		sink:      s.sink,
	}, nil
}

func (w *Weighted) AddAddr(host string, port int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	k := key(host, port)
	if _, ok := w.endpoints[k]; ok {
		return
	}

	addr := Address{Host: host, Port: port}
	w.endpoints[k] = &endpoint{
		addr:             addr,
		weight:           w.opts.InitWeight,
		firstFailedTime:  unset,
		latestAdjustTime: unset,
	}
	w.address = append(w.address, addr)
	w.emit(metrics.EventAddrAdded, k, w.opts.InitWeight)
}

func (w *Weighted) RemoveAddr(host string, port int) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	k := key(host, port)
	ep, ok := w.endpoints[k]
	if !ok {
		return
	}

	delete(w.endpoints, k)
	w.address = removeAddress(w.address, ep.addr)
	w.emit(metrics.EventAddrRemoved, k, 0)
}

// Next revives quarantined endpoints whose cool-down has passed, then walks
// the pool from the rotating index with random steps, admitting an endpoint
// on weight out of every InitWeight visits. At most one lap is tried.
func (w *Weighted) Next() (Address, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	n := len(w.address)
	if n == 0 {
		w.emit(metrics.EventNoAddress, "", 0)
		return Address{}, ErrEmptyPool
	}

	w.revive()

	for retry := 0; retry < n; retry++ {
		step := w.rand.IntN(w.opts.MaxStep) + 1
		w.index = (w.index + step) % n

		addr := w.address[w.index]
		ep := w.endpoints[addr.String()]
		ep.requestCount = (ep.requestCount + 1) % w.opts.InitWeight
		if ep.requestCount < ep.weight {
			w.emit(metrics.EventSelected, addr.String(), ep.weight)
			return addr, nil
		}
	}

	w.emit(metrics.EventNoAddress, "", 0)
	return Address{}, ErrNoAddress
}

func (w *Weighted) Get() []Address {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	out := make([]Address, len(w.address))
	copy(out, w.address)
	return out
}

// State returns the bookkeeping of a registered endpoint.
func (w *Weighted) State(host string, port int) (EndpointState, bool) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	k := key(host, port)
	ep, ok := w.endpoints[k]
	if !ok {
		return EndpointState{}, false
	}

	_, dead := w.dead[k]
	return EndpointState{
		Address:          ep.addr,
		Weight:           ep.weight,
		FailedCount:      ep.failedCount,
		FirstFailedTime:  ep.firstFailedTime,
		LatestAdjustTime: ep.latestAdjustTime,
		RequestCount:     ep.requestCount,
		Dead:             dead,
	}, true
}

// Weights returns the current weight of every registered endpoint.
func (w *Weighted) Weights() map[string]int {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	out := make(map[string]int, len(w.endpoints))
	for k, ep := range w.endpoints {
		out[k] = ep.weight
	}
	return out
}

// Dead returns the sorted keys of the quarantine set. A removed endpoint
// stays listed until the next Next call reconciles it.
func (w *Weighted) Dead() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	out := make([]string, 0, len(w.dead))
	for k := range w.dead {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (w *Weighted) now() int64 {
	return w.clock.Now().Unix()
}

func (w *Weighted) emit(t metrics.EventType, endpoint string, weight int) {
	if w.sink == nil {
		return
	}
	w.sink.Emit(metrics.MetricEvent{
		Type:      t,
		Timestamp: w.clock.Now(),
		Endpoint:  endpoint,
		Weight:    weight,
	})
}
