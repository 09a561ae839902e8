// Package scheduler triggers full retraining runs on a fixed interval.
// It only enqueues commands; the queue's single worker executes them, so
// a slow run and the next tick never train concurrently.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinTrain/internal/usecase"
	applogger "FinTrain/pkg/logger"
	"FinTrain/pkg/queue"
)

type Scheduler struct {
	queue      queue.QueueService
	interval   time.Duration
	runOnStart bool
	l          *applogger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

// WithRunOnStart enqueues a full run immediately instead of waiting for
// the first tick.
func WithRunOnStart() Option {
	return func(s *Scheduler) { s.runOnStart = true }
}

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Scheduler) { s.l = l }
}

// New creates a scheduler enqueueing a full run every interval.
func New(q queue.QueueService, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:    q,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if s.l != nil {
		s.l.Info("scheduler started", applogger.Duration("interval", s.interval))
	}
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the loop, waiting for an in-flight enqueue up to the
// context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.enqueue()
	}
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.enqueue()
		}
	}
}

func (s *Scheduler) enqueue() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.queue.PublishMessage(ctx, usecase.RetrainMessageType, usecase.RetrainCommand{All: true}); err != nil {
		if s.l != nil {
			s.l.Error("scheduled run enqueue failed", applogger.Error(err))
		}
		return
	}
	if s.l != nil {
		s.l.Info("scheduled full run enqueued")
	}
}
