// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"strconv"
	"time"
)

// RecordType classifies a captured interaction event.
type RecordType string

const (
	RecordAudioChunk  RecordType = "audio_chunk"
	RecordVideoFrame  RecordType = "video_frame"
	RecordTextInput   RecordType = "text_input"
	RecordApiResponse RecordType = "api_response"
	RecordUserAction  RecordType = "user_action"
	RecordError       RecordType = "error"
)

// StorageKind describes how a media payload is carried in a record.
type StorageKind string

const (
	// StorageHashOnly carries only a content fingerprint (privacy mode).
	StorageHashOnly StorageKind = "hash_only"
	// StorageInline carries the raw payload bytes in the record itself.
	StorageInline StorageKind = "inline"
	// StorageCloudReference carries a pointer into object storage.
	StorageCloudReference StorageKind = "cloud_reference"
)

// Metadata keys shared between capture and replay.
const (
	MetadataMicrophoneOn    = "microphoneOn"
	MetadataSampleRate      = "sampleRate"
	MetadataResponseLatency = "responseLatencyMs"
	MetadataActionName      = "actionName"
	MetadataErrorMessage    = "errorMessage"
)

// MediaAttachment is the optional media payload of a record.
type MediaAttachment struct {
	StorageKind   StorageKind `json:"storageKind"`
	Payload       []byte      `json:"payload,omitempty"`
	Hash          string      `json:"hash,omitempty"`
	CloudURI      string      `json:"cloudUri,omitempty"`
	IsAnonymized  bool        `json:"isAnonymized"`
	RetentionDays int         `json:"retentionDays"`
}

// InteractionRecord is one captured event of a session. Records are created
// once at capture time and never mutated afterwards; sequenceNumber is the
// canonical order key (timestamps are advisory, used only for duration
// estimation inside a segment).
type InteractionRecord struct {
	SessionId      string            `json:"sessionId"`
	ChatSessionId  *string           `json:"chatSessionId,omitempty"`
	SequenceNumber uint64            `json:"sequenceNumber"`
	Type           RecordType        `json:"type"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Media          *MediaAttachment  `json:"media,omitempty"`
}

// MicrophoneOn reports whether the record was captured with the mic open.
// Only meaningful for audio_chunk records.
func (r *InteractionRecord) MicrophoneOn() bool {
	return r.Metadata[MetadataMicrophoneOn] == "true"
}

// SampleRate returns the recorded sample rate, or fallback when the record
// carries none.
func (r *InteractionRecord) SampleRate(fallback int) int {
	raw, ok := r.Metadata[MetadataSampleRate]
	if !ok {
		return fallback
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// InlinePayload returns the raw media bytes when the record carries an
// inline payload, nil otherwise.
func (r *InteractionRecord) InlinePayload() []byte {
	if r.Media == nil || r.Media.StorageKind != StorageInline {
		return nil
	}
	return r.Media.Payload
}
