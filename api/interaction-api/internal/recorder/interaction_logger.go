// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_recorder

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	internal_audio "github.com/rapidaai/interactions/api/interaction-api/internal/audio"
	internal_sequencer "github.com/rapidaai/interactions/api/interaction-api/internal/sequencer"
	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	internal_uploader "github.com/rapidaai/interactions/api/interaction-api/internal/uploader"
	"github.com/rapidaai/interactions/pkg/commons"
	"github.com/rapidaai/interactions/pkg/utils"
)

// CaptureMode controls how media payloads of subsequently logged records are
// stored. Switching the mode never touches already-enqueued records.
type CaptureMode string

const (
	// ModePrivacy stores only a content hash of media payloads.
	ModePrivacy CaptureMode = "privacy"
	// ModeCapture stores media inline (or as a cloud reference when one is
	// supplied by the caller).
	ModeCapture CaptureMode = "capture"
)

const DefaultRetentionDays = 30

// ErrNoActiveSession is returned by Log when no capture session is open.
var ErrNoActiveSession = fmt.Errorf("no active capture session")

// captureInput is the synchronously validated shape of a Log call.
type captureInput struct {
	Type internal_type.RecordType `validate:"required,oneof=audio_chunk video_frame text_input api_response user_action error"`
}

// InteractionLogger is the single capture entry point producers call. It
// composes the sequencer and the upload pipeline: every Log call assigns the
// next sequence number and the capture timestamp before any asynchronous
// delivery step, then returns immediately; it never awaits network I/O.
type InteractionLogger struct {
	logger   commons.Logger
	pipeline *internal_uploader.Pipeline
	notifier internal_type.SessionNotifier

	sequencer *internal_sequencer.Sequencer
	validate  *validator.Validate
	audioCfg  internal_audio.Config

	mu            sync.Mutex
	sessionID     string
	chatSessionID *string
	mode          CaptureMode

	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

func NewInteractionLogger(logger commons.Logger, pipeline *internal_uploader.Pipeline, notifier internal_type.SessionNotifier) *InteractionLogger {
	return &InteractionLogger{
		logger:    logger,
		pipeline:  pipeline,
		notifier:  notifier,
		sequencer: internal_sequencer.New(),
		validate:  validator.New(),
		audioCfg:  internal_audio.NewLinear16khzMonoConfig(),
		mode:      ModeCapture,
		clock:     time.Now,
	}
}

// StartSession generates a fresh session id, resets the sequencer and
// notifies the backend session-start endpoint fire-and-forget (a notification
// failure is logged, never fatal). Returns the new session id.
func (l *InteractionLogger) StartSession(chatSessionID *string) string {
	sessionID := uuid.New().String()

	l.mu.Lock()
	l.sessionID = sessionID
	l.chatSessionID = chatSessionID
	l.mu.Unlock()

	l.sequencer.Bind(sessionID)
	l.pipeline.Start()

	go func() {
		if err := l.notifier.SessionStarted(context.Background(), sessionID, chatSessionID); err != nil {
			l.logger.Warnw("session start notification failed", "sessionId", sessionID, "error", err)
		}
	}()

	l.logger.Infow("capture session started",
		"sessionId", sessionID, "chatSessionId", utils.Deref(chatSessionID, ""))
	return sessionID
}

// LogOption adjusts a single Log call.
type LogOption func(*logOptions)

type logOptions struct {
	cloudURI      string
	retentionDays int
}

// WithCloudReference stores the media as a pointer into object storage
// instead of inline (capture mode only).
func WithCloudReference(uri string) LogOption {
	return func(o *logOptions) { o.cloudURI = uri }
}

// WithRetentionDays overrides the default media retention.
func WithRetentionDays(days int) LogOption {
	return func(o *logOptions) { o.retentionDays = days }
}

// Log builds an InteractionRecord with the next sequence number and the
// current timestamp, classifies its media storage from the capture mode and
// enqueues it for background delivery. Malformed input is rejected here,
// synchronously, and never silently queued.
func (l *InteractionLogger) Log(recordType internal_type.RecordType, mediaPayload []byte, metadata map[string]string, opts ...LogOption) error {
	if err := l.validate.Struct(captureInput{Type: recordType}); err != nil {
		return fmt.Errorf("invalid capture input: %w", err)
	}
	if recordType == internal_type.RecordAudioChunk {
		if err := internal_audio.ValidatePCM(mediaPayload, l.audioCfg); err != nil {
			return fmt.Errorf("invalid capture input: %w", err)
		}
	}

	l.mu.Lock()
	sessionID := l.sessionID
	chatSessionID := l.chatSessionID
	mode := l.mode
	l.mu.Unlock()
	if sessionID == "" {
		return ErrNoActiveSession
	}

	// The session can rotate between the snapshot above and this call; the
	// sequencer rejects the stale id rather than re-issuing numbers for it.
	seq, err := l.sequencer.Next(sessionID)
	if err != nil {
		return fmt.Errorf("capture session %s rotated before record was sequenced: %w", sessionID, err)
	}

	record := &internal_type.InteractionRecord{
		SessionId:      sessionID,
		ChatSessionId:  chatSessionID,
		SequenceNumber: seq,
		Type:           recordType,
		Timestamp:      l.clock(),
		Metadata:       metadata,
		Media:          l.classifyMedia(mediaPayload, mode, opts),
	}

	l.pipeline.Enqueue(record)
	return nil
}

// classifyMedia maps a raw payload to its stored form under the given mode.
func (l *InteractionLogger) classifyMedia(payload []byte, mode CaptureMode, opts []LogOption) *internal_type.MediaAttachment {
	if len(payload) == 0 {
		return nil
	}

	options := &logOptions{retentionDays: DefaultRetentionDays}
	for _, opt := range opts {
		opt(options)
	}

	if mode == ModePrivacy {
		return &internal_type.MediaAttachment{
			StorageKind:   internal_type.StorageHashOnly,
			Hash:          utils.HashPayload(payload),
			IsAnonymized:  true,
			RetentionDays: options.retentionDays,
		}
	}

	if options.cloudURI != "" {
		return &internal_type.MediaAttachment{
			StorageKind:   internal_type.StorageCloudReference,
			CloudURI:      options.cloudURI,
			RetentionDays: options.retentionDays,
		}
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &internal_type.MediaAttachment{
		StorageKind:   internal_type.StorageInline,
		Payload:       buf,
		RetentionDays: options.retentionDays,
	}
}

// ============================================================================
// Typed convenience wrappers: metadata defaults only, no control logic
// ============================================================================

func (l *InteractionLogger) LogAudioChunk(pcm []byte, sampleRate int, microphoneOn bool) error {
	return l.Log(internal_type.RecordAudioChunk, pcm, map[string]string{
		internal_type.MetadataSampleRate:   strconv.Itoa(sampleRate),
		internal_type.MetadataMicrophoneOn: strconv.FormatBool(microphoneOn),
	})
}

func (l *InteractionLogger) LogVideoFrame(frame []byte, metadata map[string]string) error {
	return l.Log(internal_type.RecordVideoFrame, frame, metadata)
}

func (l *InteractionLogger) LogTextInput(text string) error {
	return l.Log(internal_type.RecordTextInput, []byte(text), nil)
}

func (l *InteractionLogger) LogApiResponse(payload []byte, latency time.Duration) error {
	return l.Log(internal_type.RecordApiResponse, payload, map[string]string{
		internal_type.MetadataResponseLatency: strconv.FormatInt(latency.Milliseconds(), 10),
	})
}

func (l *InteractionLogger) LogUserAction(action string) error {
	return l.Log(internal_type.RecordUserAction, nil, map[string]string{
		internal_type.MetadataActionName: action,
	})
}

func (l *InteractionLogger) LogError(captureErr error) error {
	return l.Log(internal_type.RecordError, nil, map[string]string{
		internal_type.MetadataErrorMessage: captureErr.Error(),
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

// SetCaptureMode switches the storage classification used for subsequently
// logged records only.
func (l *InteractionLogger) SetCaptureMode(mode CaptureMode) {
	l.mu.Lock()
	l.mode = mode
	l.mu.Unlock()
}

// SessionID returns the active session id, empty when no session is open.
func (l *InteractionLogger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// Health returns the upload pipeline's delivery snapshot.
func (l *InteractionLogger) Health() internal_uploader.Health {
	return l.pipeline.Health()
}

// EndSession drains the upload pipeline bounded by ctx, then notifies the
// backend session-end endpoint. Draining is not guaranteed to finish when the
// pipeline is severely backlogged; whatever remains is abandoned telemetry.
func (l *InteractionLogger) EndSession(ctx context.Context) error {
	l.mu.Lock()
	sessionID := l.sessionID
	l.sessionID = ""
	l.chatSessionID = nil
	l.mu.Unlock()

	if sessionID == "" {
		return ErrNoActiveSession
	}

	drainErr := l.pipeline.Drain(ctx)
	if drainErr != nil {
		l.logger.Warnw("upload pipeline did not fully drain before session end",
			"sessionId", sessionID, "error", drainErr,
			"queueDepth", l.pipeline.Health().QueueDepth)
	}

	if err := l.notifier.SessionEnded(context.Background(), sessionID); err != nil {
		l.logger.Warnw("session end notification failed", "sessionId", sessionID, "error", err)
	}

	l.logger.Infow("capture session ended", "sessionId", sessionID)
	return drainErr
}
