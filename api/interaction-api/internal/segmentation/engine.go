// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_segmentation

import (
	"sort"
	"time"

	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	"github.com/rapidaai/interactions/config"
)

// Segmentation thresholds. MergeGap absorbs network/encoding jitter inside
// one logical turn; MinSpeechDuration filters mic toggles and false starts
// out of user speech. Both are tunable; the filter DROPS short speech runs
// rather than merging them into a neighbour.
const (
	DefaultMergeGap          = 3 * time.Second
	DefaultMinSpeechDuration = 800 * time.Millisecond
)

// Options are the tunable thresholds of the engine.
type Options struct {
	MergeGap          time.Duration
	MinSpeechDuration time.Duration
}

func DefaultOptions() Options {
	return Options{
		MergeGap:          DefaultMergeGap,
		MinSpeechDuration: DefaultMinSpeechDuration,
	}
}

// OptionsFromConfig maps the configured thresholds onto engine options.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		MergeGap:          cfg.SegmentMergeGap,
		MinSpeechDuration: cfg.MinSpeechElapsed,
	}
}

// SortRecords orders records by sequence number, the canonical order key.
// Wall-clock timestamps are never used for ordering; network delivery races
// are corrected here before segmentation.
func SortRecords(records []*internal_type.InteractionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SequenceNumber < records[j].SequenceNumber
	})
}

// classify maps a record to the segment class it can contribute to. Records
// of any other type break the current run without starting one.
func classify(r *internal_type.InteractionRecord) (internal_type.SegmentType, bool) {
	switch r.Type {
	case internal_type.RecordAudioChunk:
		if r.MicrophoneOn() {
			return internal_type.SegmentUserSpeech, true
		}
		return "", false
	case internal_type.RecordApiResponse:
		return internal_type.SegmentApiResponse, true
	default:
		return "", false
	}
}

// Segment transforms a sequence-sorted record list into ordered conversation
// segments. Pure and deterministic: same sorted input and thresholds always
// yield the same segments.
//
// A run of same-class records closes when the class changes, when a
// non-contributing record intervenes, or when the timestamp gap between
// consecutive members exceeds opts.MergeGap. user_speech segments shorter
// than opts.MinSpeechDuration are treated as sensor noise and dropped;
// api_response segments are never filtered.
func Segment(records []*internal_type.InteractionRecord, opts Options) []*internal_type.ConversationSegment {
	if opts.MergeGap <= 0 {
		opts.MergeGap = DefaultMergeGap
	}
	if opts.MinSpeechDuration <= 0 {
		opts.MinSpeechDuration = DefaultMinSpeechDuration
	}

	var segments []*internal_type.ConversationSegment
	var run []*internal_type.InteractionRecord
	var runType internal_type.SegmentType

	closeRun := func() {
		if len(run) == 0 {
			return
		}
		segment := &internal_type.ConversationSegment{
			Type:      runType,
			StartTime: run[0].Timestamp,
			EndTime:   run[len(run)-1].Timestamp,
			Members:   run,
		}
		run = nil

		// Lossy, irreversible filter: short user speech is noise.
		if segment.Type == internal_type.SegmentUserSpeech && segment.Duration() < opts.MinSpeechDuration {
			return
		}
		segments = append(segments, segment)
	}

	for _, r := range records {
		class, ok := classify(r)
		if !ok {
			closeRun()
			continue
		}

		if len(run) > 0 {
			gap := r.Timestamp.Sub(run[len(run)-1].Timestamp)
			if class != runType || gap > opts.MergeGap {
				closeRun()
			}
		}
		if len(run) == 0 {
			runType = class
		}
		run = append(run, r)
	}
	closeRun()

	return segments
}
