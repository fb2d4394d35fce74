// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"context"
	"time"
)

// Dispatcher delivers one record to the backend. Implementations classify
// the outcome as success or failure only; the upload pipeline never retries.
type Dispatcher interface {
	Dispatch(ctx context.Context, record *InteractionRecord) error
}

// SessionNotifier announces capture session lifecycle to the backend.
// Both calls are fire-and-forget from the caller's perspective.
type SessionNotifier interface {
	SessionStarted(ctx context.Context, sessionID string, chatSessionID *string) error
	SessionEnded(ctx context.Context, sessionID string) error
}

// RecordFetcher retrieves one page of records for a session. totalCount is
// the server-reported total across all pages.
type RecordFetcher interface {
	FetchPage(ctx context.Context, sessionID string, limit, offset int) (records []*InteractionRecord, totalCount int64, err error)
}

// AudioSource is a single playing audio resource. Stop is idempotent and
// must never fire the source's completion callback.
type AudioSource interface {
	Stop()
}

// AudioOutput renders decoded PCM16 little-endian audio.
//
// Play starts immediately and invokes onEnded exactly once when the buffer
// finishes naturally. PlayAt schedules the buffer to start at the given
// position on the output's audio clock (used for gapless live streaming).
type AudioOutput interface {
	Play(pcm []byte, sampleRate int, onEnded func()) (AudioSource, error)
	PlayAt(pcm []byte, sampleRate int, at time.Duration) (AudioSource, error)

	// ClockNow is the current position of the output's audio clock. Audio
	// scheduling always uses this clock, never the wall clock.
	ClockNow() time.Duration
}

// SegmentRenderer displays the non-audio payload of a segment (text, video
// frames, user actions). Rendering is synchronous; the playback scheduler
// does not wait on any completion signal for rendered segments.
type SegmentRenderer interface {
	RenderSegment(segment *ConversationSegment)
}
