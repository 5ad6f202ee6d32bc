package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mutex     sync.RWMutex
	endpoints map[string]*EndpointMetrics
	noAddress int64
	startTime time.Time
}

type Snapshot struct {
	TotalSelections int64                      `json:"total_selections"`
	NoAddress       int64                      `json:"no_address"`
	Uptime          time.Duration              `json:"uptime"`
	Endpoints       map[string]EndpointMetrics `json:"endpoints"`
	Algorithm       string                     `json:"algorithm"`
}

type EndpointMetrics struct {
	Registered  bool  `json:"registered"`
	Weight      int   `json:"weight"`
	Selections  int64 `json:"selections"`
	Failures    int64 `json:"failures"`
	Successes   int64 `json:"successes"`
	Decreases   int64 `json:"decreases"`
	Increases   int64 `json:"increases"`
	Quarantines int64 `json:"quarantines"`
	Revivals    int64 `json:"revivals"`
}

// endpoint returns the counters for name, creating them on first use.
// Must be called with m.mutex held.
func (m *Metrics) endpoint(name string) *EndpointMetrics {
	em, ok := m.endpoints[name]
	if !ok {
		em = &EndpointMetrics{}
		m.endpoints[name] = em
	}
	return em
}

func (m *Metrics) Register(endpoint string, weight int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	em := m.endpoint(endpoint)
	em.Registered = true
	em.Weight = weight
}

// Deregister keeps the counters of a removed endpoint but marks it gone.
func (m *Metrics) Deregister(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	em := m.endpoint(endpoint)
	em.Registered = false
	em.Weight = 0
}

func (m *Metrics) RecordSelection(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.endpoint(endpoint).Selections++
}

func (m *Metrics) RecordNoAddress() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.noAddress++
}

func (m *Metrics) RecordFailure(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.endpoint(endpoint).Failures++
}

func (m *Metrics) RecordSuccess(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.endpoint(endpoint).Successes++
}

func (m *Metrics) RecordAdjustment(endpoint string, weight int, increased bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	em := m.endpoint(endpoint)
	em.Weight = weight
	if increased {
		em.Increases++
	} else {
		em.Decreases++
	}
}

func (m *Metrics) RecordQuarantine(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.endpoint(endpoint).Quarantines++
}

func (m *Metrics) RecordRevival(endpoint string, weight int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	em := m.endpoint(endpoint)
	em.Weight = weight
	em.Revivals++
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		NoAddress: m.noAddress,
		Uptime:    time.Since(m.startTime),
		Endpoints: make(map[string]EndpointMetrics, len(m.endpoints)),
		Algorithm: algorithm,
	}

	for name, em := range m.endpoints {
		snap.TotalSelections += em.Selections
		snap.Endpoints[name] = *em
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		endpoints: make(map[string]*EndpointMetrics),
		startTime: time.Now(),
	}
}
