// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_uploader

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	"github.com/rapidaai/interactions/config"
	"github.com/rapidaai/interactions/pkg/commons"
)

// Defaults for the upload pipeline. Small batches on a fast tick keep
// delivery latency low under bursty capture without large-batch delay.
const (
	DefaultTick            = 25 * time.Millisecond
	DefaultBatchSize       = 5
	DefaultConcurrency     = 6
	DefaultDispatchTimeout = 10 * time.Second
)

// Pipeline delivers queued interaction records to the backend without ever
// blocking the producer. Delivery is best-effort telemetry: a dispatch that
// fails or times out is dropped, counted, and never retried. Conversational
// playback correctness is restored at replay time from whatever arrived.
type Pipeline struct {
	logger     commons.Logger
	dispatcher internal_type.Dispatcher

	// Lifecycle. The pipeline owns its own context so draining is never
	// short-circuited by the caller's context being cancelled first.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// queue holds records awaiting dispatch. Enqueue is O(1) append and
	// always succeeds; the drain loop pops small batches per tick.
	mu    sync.Mutex
	queue []*internal_type.InteractionRecord

	// Delivery bookkeeping, guarded by mu.
	delivered   uint64
	failed      uint64
	consecutive uint64
	lastSuccess time.Time
	inFlight    int

	// sem caps concurrently in-flight dispatches.
	sem *semaphore.Weighted

	tick            time.Duration
	batchSize       int
	dispatchTimeout time.Duration

	started bool
}

// Option customises a Pipeline.
type Option func(*Pipeline)

func WithTick(d time.Duration) Option {
	return func(p *Pipeline) { p.tick = d }
}

func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

func WithConcurrency(n int64) Option {
	return func(p *Pipeline) { p.sem = semaphore.NewWeighted(n) }
}

func WithDispatchTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.dispatchTimeout = d }
}

// OptionsFromConfig maps the application configuration onto pipeline options.
func OptionsFromConfig(cfg *config.AppConfig) []Option {
	return []Option{
		WithTick(cfg.UploadTick),
		WithBatchSize(cfg.UploadBatchSize),
		WithConcurrency(cfg.UploadConcurrency),
		WithDispatchTimeout(cfg.UploadTimeout),
	}
}

// NewPipeline creates an upload pipeline. Start must be called before
// records are drained; Enqueue is legal at any point after construction.
func NewPipeline(logger commons.Logger, dispatcher internal_type.Dispatcher, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		logger:          logger,
		dispatcher:      dispatcher,
		ctx:             ctx,
		cancel:          cancel,
		sem:             semaphore.NewWeighted(DefaultConcurrency),
		tick:            DefaultTick,
		batchSize:       DefaultBatchSize,
		dispatchTimeout: DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background drain loop. Idempotent.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.drainLoop()
}

// Enqueue appends a record for background delivery. Non-blocking, O(1),
// always succeeds. Safe for concurrent producers.
func (p *Pipeline) Enqueue(record *internal_type.InteractionRecord) {
	p.mu.Lock()
	p.queue = append(p.queue, record)
	p.mu.Unlock()
}

// drainLoop pulls a bounded batch off the queue every tick and hands each
// record to a dispatch goroutine gated by the concurrency semaphore.
func (p *Pipeline) drainLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			for _, record := range p.popBatch() {
				p.wg.Add(1)
				go p.dispatch(record)
			}
		}
	}
}

func (p *Pipeline) popBatch() []*internal_type.InteractionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.batchSize
	if n > len(p.queue) {
		n = len(p.queue)
	}
	if n == 0 {
		return nil
	}
	batch := p.queue[:n]
	p.queue = append([]*internal_type.InteractionRecord(nil), p.queue[n:]...)
	p.inFlight += n
	return batch
}

// dispatch delivers one record under the concurrency cap with an upper-bound
// timeout. Failures are dropped and counted, never retried.
func (p *Pipeline) dispatch(record *internal_type.InteractionRecord) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.markFailed(record, err)
		return
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(p.ctx, p.dispatchTimeout)
	defer cancel()

	if err := p.dispatcher.Dispatch(ctx, record); err != nil {
		p.markFailed(record, err)
		return
	}

	p.mu.Lock()
	p.delivered++
	p.consecutive = 0
	p.lastSuccess = time.Now()
	p.mu.Unlock()
}

func (p *Pipeline) markFailed(record *internal_type.InteractionRecord, err error) {
	p.mu.Lock()
	p.failed++
	p.consecutive++
	p.mu.Unlock()

	p.logger.Warnw("dropping interaction record after failed dispatch",
		"sessionId", record.SessionId,
		"sequenceNumber", record.SequenceNumber,
		"type", record.Type,
		"error", err)
}

// Drain blocks until the queue is empty and no dispatch is in flight, or ctx
// expires. A severely backlogged pipeline is not guaranteed to finish within
// the caller's bound; the remaining records are then abandoned with Close.
func (p *Pipeline) Drain(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		idle := len(p.queue) == 0 && p.inFlight == 0
		p.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the drain loop and waits for in-flight dispatches to settle.
// Queued records that were never dispatched are dropped.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}
