// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_uploader

import (
	"time"

	"github.com/rapidaai/interactions/config"
	"github.com/rapidaai/interactions/pkg/commons"
)

// Health is a point-in-time snapshot of pipeline delivery state.
type Health struct {
	Delivered           uint64        `json:"delivered"`
	Failed              uint64        `json:"failed"`
	ConsecutiveFailures uint64        `json:"consecutiveFailures"`
	QueueDepth          int           `json:"queueDepth"`
	InFlight            int           `json:"inFlight"`
	SinceLastSuccess    time.Duration `json:"sinceLastSuccess"`
}

// Health returns the current delivery snapshot.
func (p *Pipeline) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	since := time.Duration(0)
	if !p.lastSuccess.IsZero() {
		since = time.Since(p.lastSuccess)
	}
	return Health{
		Delivered:           p.delivered,
		Failed:              p.failed,
		ConsecutiveFailures: p.consecutive,
		QueueDepth:          len(p.queue),
		InFlight:            p.inFlight,
		SinceLastSuccess:    since,
	}
}

// Monitor samples pipeline health on an interval and logs warnings when the
// backlog or the consecutive-failure streak crosses a threshold. These are
// observability signals only; the monitor never changes pipeline behaviour
// (no backoff, no circuit breaking).
type Monitor struct {
	logger   commons.Logger
	pipeline *Pipeline

	interval        time.Duration
	backlogWarn     int
	consecutiveWarn uint64

	stop chan struct{}
}

func NewMonitor(logger commons.Logger, pipeline *Pipeline, interval time.Duration, backlogWarn int, consecutiveWarn uint64) *Monitor {
	return &Monitor{
		logger:          logger,
		pipeline:        pipeline,
		interval:        interval,
		backlogWarn:     backlogWarn,
		consecutiveWarn: consecutiveWarn,
		stop:            make(chan struct{}),
	}
}

// NewMonitorFromConfig builds a Monitor with the configured sampling interval
// and warn thresholds.
func NewMonitorFromConfig(logger commons.Logger, pipeline *Pipeline, cfg *config.AppConfig) *Monitor {
	return NewMonitor(logger, pipeline, cfg.HealthSampleInterval, cfg.HealthBacklogWarn, cfg.HealthConsecutiveWarn)
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *Monitor) sample() {
	h := m.pipeline.Health()
	if h.QueueDepth > m.backlogWarn {
		m.logger.Warnw("upload pipeline backlog over threshold",
			"queueDepth", h.QueueDepth,
			"threshold", m.backlogWarn,
			"inFlight", h.InFlight)
	}
	if h.ConsecutiveFailures >= m.consecutiveWarn {
		m.logger.Warnw("upload pipeline failing consecutively",
			"consecutiveFailures", h.ConsecutiveFailures,
			"failed", h.Failed,
			"sinceLastSuccess", h.SinceLastSuccess)
	}
}

// Stop halts sampling. Must be called at most once.
func (m *Monitor) Stop() {
	close(m.stop)
}
