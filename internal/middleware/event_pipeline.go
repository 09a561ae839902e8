package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
)

// Sink is one downstream consumer of pipeline events.
type Sink interface {
	Publish(ctx context.Context, ev models.PipelineEvent) error
}

// EventBroadcaster sits between the orchestrator and its event sinks.
// It validates, stamps, and fans events out; events whose sink was
// unavailable are buffered and flushed in the background so a slow broker
// never stalls a retraining run.
type EventBroadcaster struct {
	sinks   []Sink
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan models.PipelineEvent
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type BroadcastOption func(*EventBroadcaster)

// WithBufferSize sets the retry buffer capacity.
func WithBufferSize(n int) BroadcastOption {
	return func(b *EventBroadcaster) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// NewEventBroadcaster creates a broadcaster over the given sinks.
func NewEventBroadcaster(metrics domrepo.Metrics, sinks []Sink, opts ...BroadcastOption) *EventBroadcaster {
	b := &EventBroadcaster{
		sinks:   sinks,
		metrics: metrics,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.bufCh = make(chan models.PipelineEvent, b.bufSize)
	return b
}

// Start launches background flushing of buffered events.
func (b *EventBroadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-b.stopCh:
				return
			case ev := <-b.bufCh:
				b.metrics.RecordEventBufferDepth(len(b.bufCh))
				if err := b.fanOut(ctx, ev); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					b.metrics.RecordError("event_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case b.bufCh <- ev:
					default:
						b.metrics.RecordError("event_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (b *EventBroadcaster) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()
	close(b.stopCh)
}

// Publish validates and fans one event out, buffering on sink failure.
func (b *EventBroadcaster) Publish(ctx context.Context, ev models.PipelineEvent) error {
	if err := validateEvent(ev); err != nil {
		b.metrics.RecordError("event_validate")
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := b.fanOut(ctx, ev); err != nil {
		// buffer non-blocking
		select {
		case b.bufCh <- ev:
			b.metrics.RecordEventBufferDepth(len(b.bufCh))
		default:
			b.metrics.RecordError("event_buffer_full")
		}
		return fmt.Errorf("event fan-out: %w", err)
	}
	return nil
}

// Close stops flushing and closes every sink that supports it.
func (b *EventBroadcaster) Close() error {
	b.Stop()
	var first error
	for _, sink := range b.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (b *EventBroadcaster) fanOut(ctx context.Context, ev models.PipelineEvent) error {
	var first error
	for _, sink := range b.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			b.metrics.RecordError("event_sink")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func validateEvent(ev models.PipelineEvent) error {
	if ev.Type == "" {
		return fmt.Errorf("event type empty")
	}
	if ev.RunID == "" && ev.Symbol == "" {
		return fmt.Errorf("event has neither run id nor symbol")
	}
	return nil
}
