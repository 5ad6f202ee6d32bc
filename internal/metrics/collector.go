package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventAddrAdded       EventType = "addr_added"
	EventAddrRemoved     EventType = "addr_removed"
	EventSelected        EventType = "selected"
	EventNoAddress       EventType = "no_address"
	EventFailureReported EventType = "failure_reported"
	EventSuccessReported EventType = "success_reported"
	EventWeightDecreased EventType = "weight_decreased"
	EventWeightIncreased EventType = "weight_increased"
	EventQuarantined     EventType = "quarantined"
	EventRevived         EventType = "revived"
)

// MetricEvent describes one selector state change. Weight is the endpoint
// weight after the change, when the event carries one.
type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Endpoint  string
	Weight    int
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues the event, dropping it when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Run processes events until ctx is done. It is Start without the goroutine,
// for callers that manage their own lifecycle.
func (c *Collector) Run(ctx context.Context) error {
	c.run(ctx)
	return nil
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventAddrAdded:
		c.metrics.Register(event.Endpoint, event.Weight)

	case EventAddrRemoved:
		c.metrics.Deregister(event.Endpoint)

	case EventSelected:
		c.metrics.RecordSelection(event.Endpoint)

	case EventNoAddress:
		c.metrics.RecordNoAddress()

	case EventFailureReported:
		c.metrics.RecordFailure(event.Endpoint)

	case EventSuccessReported:
		c.metrics.RecordSuccess(event.Endpoint)

	case EventWeightDecreased, EventWeightIncreased:
		c.metrics.RecordAdjustment(event.Endpoint, event.Weight, event.Type == EventWeightIncreased)

	case EventQuarantined:
		c.metrics.RecordQuarantine(event.Endpoint)

	case EventRevived:
		c.metrics.RecordRevival(event.Endpoint, event.Weight)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(algorithm string) Snapshot {
	return c.metrics.Snapshot(algorithm)
}
