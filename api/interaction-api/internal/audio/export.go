// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"fmt"

	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
)

// ExportSegmentWAV renders a segment's concatenated PCM into a standalone
// WAV file, using the sample rate recorded on the segment's members. Only
// segments whose members carry inline audio can be exported; hash-only and
// cloud-referenced media yield an error.
func ExportSegmentWAV(segment *internal_type.ConversationSegment, cfg Config) ([]byte, error) {
	pcm := segment.ConcatenatedPayload()
	if len(pcm) == 0 {
		return nil, fmt.Errorf("segment carries no inline audio to export")
	}
	if err := ValidatePCM(pcm, cfg); err != nil {
		return nil, fmt.Errorf("cannot export segment: %w", err)
	}

	cfg.SampleRate = segment.SampleRate(cfg.SampleRate)
	return CreateWAVFile(pcm, cfg)
}
