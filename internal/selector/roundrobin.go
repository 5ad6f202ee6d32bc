package selector

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/angeloszaimis/addrselect/internal/metrics"
)

// RoundRobin cycles through the pool in registration order. It ignores
// outcome reports.
type RoundRobin struct {
	mutex   sync.Mutex
	address []Address
	keys    map[string]struct{}
	index   int
	sink    EventSink
	clock   clockwork.Clock
}

// NewRoundRobin creates an empty round-robin selector. Only WithEventSink
// and WithClock are meaningful for it.
func NewRoundRobin(opts ...Option) *RoundRobin {
	s := newSettings(opts)
	return &RoundRobin{
		keys:  make(map[string]struct{}),
		sink:  s.sink,
		clock: s.clock,
	}
}

func (rr *RoundRobin) AddAddr(host string, port int) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	k := key(host, port)
	if _, ok := rr.keys[k]; ok {
		return
	}

	rr.keys[k] = struct{}{}
	rr.address = append(rr.address, Address{Host: host, Port: port})
	rr.emit(metrics.EventAddrAdded, k)
}

func (rr *RoundRobin) RemoveAddr(host string, port int) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	k := key(host, port)
	if _, ok := rr.keys[k]; !ok {
		return
	}

	delete(rr.keys, k)
	rr.address = removeAddress(rr.address, Address{Host: host, Port: port})
	rr.emit(metrics.EventAddrRemoved, k)
}

func (rr *RoundRobin) Failed(host string, port int) {}

func (rr *RoundRobin) Succeed(host string, port int) {}

// Next advances the index by one and returns the endpoint under it.
func (rr *RoundRobin) Next() (Address, error) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	n := len(rr.address)
	if n == 0 {
		rr.emit(metrics.EventNoAddress, "")
		return Address{}, ErrEmptyPool
	}

	rr.index = (rr.index + 1) % n
	addr := rr.address[rr.index]
	rr.emit(metrics.EventSelected, addr.String())
	return addr, nil
}

func (rr *RoundRobin) Get() []Address {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	out := make([]Address, len(rr.address))
	copy(out, rr.address)
	return out
}

func (rr *RoundRobin) emit(t metrics.EventType, endpoint string) {
	if rr.sink == nil {
		return
	}
	rr.sink.Emit(metrics.MetricEvent{
		Type:      t,
		Timestamp: rr.clock.Now(),
		Endpoint:  endpoint,
	})
}
