// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_streamer

import (
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/interactions/api/interaction-api/internal/audio"
	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	"github.com/rapidaai/interactions/pkg/commons"
)

// scheduledSource is an audio source with its scheduled end position on the
// audio clock, kept so finished sources can be pruned.
type scheduledSource struct {
	source internal_type.AudioSource
	end    time.Duration
}

// LiveStreamer renders audio chunks from a live, ongoing connection with
// zero added latency. A single cursor, queueEndTime, tracks the audio-clock
// position at which the last scheduled chunk finishes; each incoming chunk is
// scheduled at max(clockNow, queueEndTime), chaining chunks back-to-back with
// no silence and no re-buffering delay regardless of network arrival jitter.
//
// Scheduling always uses the output's audio clock, never wall-clock timers:
// the burst-pacing cursor is what keeps gapless playback gapless.
type LiveStreamer struct {
	logger commons.Logger
	output internal_type.AudioOutput
	cfg    internal_audio.Config

	mu           sync.Mutex
	queueEndTime time.Duration
	sources      map[uint64]scheduledSource
	nextID       uint64
}

func NewLiveStreamer(logger commons.Logger, output internal_type.AudioOutput, cfg internal_audio.Config) *LiveStreamer {
	return &LiveStreamer{
		logger:  logger,
		output:  output,
		cfg:     cfg,
		sources: make(map[uint64]scheduledSource),
	}
}

// Push decodes one PCM chunk and schedules it to start exactly when the
// previous chunk ends (or immediately when the queue has drained). As long
// as chunks arrive faster than they play out, playback is gapless.
func (s *LiveStreamer) Push(chunk []byte) error {
	if err := internal_audio.ValidatePCM(chunk, s.cfg); err != nil {
		return fmt.Errorf("rejecting live audio chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.output.ClockNow()
	s.pruneFinished(now)

	start := s.queueEndTime
	if now > start {
		// Queue drained: anchor at the clock instead of the stale cursor.
		start = now
	}

	source, err := s.output.PlayAt(chunk, s.cfg.SampleRate, start)
	if err != nil {
		return fmt.Errorf("failed to schedule live audio chunk: %w", err)
	}

	duration := internal_audio.PCMDuration(len(chunk), s.cfg)
	s.queueEndTime = start + duration

	id := s.nextID
	s.nextID++
	s.sources[id] = scheduledSource{source: source, end: s.queueEndTime}
	return nil
}

// pruneFinished drops bookkeeping for sources whose scheduled end has passed.
// Caller holds mu.
func (s *LiveStreamer) pruneFinished(now time.Duration) {
	for id, ss := range s.sources {
		if ss.end <= now {
			delete(s.sources, id)
		}
	}
}

// Interrupt stops every scheduled or playing chunk and resets the cursor to
// the audio clock's current position. Called when the user begins speaking
// or the session ends.
func (s *LiveStreamer) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ss := range s.sources {
		ss.source.Stop()
		delete(s.sources, id)
	}
	s.queueEndTime = s.output.ClockNow()
}

// QueueEnd returns the audio-clock position at which the last scheduled
// chunk finishes.
func (s *LiveStreamer) QueueEnd() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueEndTime
}

// Pending returns the number of tracked (scheduled or playing) sources.
func (s *LiveStreamer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}
