// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "time"

// SegmentType classifies a conversation segment.
type SegmentType string

const (
	SegmentUserSpeech  SegmentType = "user_speech"
	SegmentApiResponse SegmentType = "api_response"
	SegmentSilence     SegmentType = "silence"
)

// ConversationSegment is a contiguous run of same-class records treated as
// one conversational turn. Segments are derived fresh for each replay from a
// sorted record list, owned by a single scheduler instance and never
// persisted or shared.
type ConversationSegment struct {
	Type      SegmentType
	StartTime time.Time
	EndTime   time.Time
	Members   []*InteractionRecord
}

// Duration is the wall-clock span between the first and last member record.
func (s *ConversationSegment) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// DurationMs is Duration in whole milliseconds.
func (s *ConversationSegment) DurationMs() int64 {
	return s.Duration().Milliseconds()
}

// ConcatenatedPayload joins the inline media payloads of all member records
// in order. For audio segments this yields one gapless PCM buffer.
func (s *ConversationSegment) ConcatenatedPayload() []byte {
	var out []byte
	for _, r := range s.Members {
		out = append(out, r.InlinePayload()...)
	}
	return out
}

// SampleRate returns the sample rate recorded on the first member that
// carries one, or fallback.
func (s *ConversationSegment) SampleRate(fallback int) int {
	for _, r := range s.Members {
		if rate := r.SampleRate(0); rate > 0 {
			return rate
		}
	}
	return fallback
}
