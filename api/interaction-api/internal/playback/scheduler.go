// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/interactions/api/interaction-api/internal/audio"
	internal_segmentation "github.com/rapidaai/interactions/api/interaction-api/internal/segmentation"
	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	"github.com/rapidaai/interactions/config"
	"github.com/rapidaai/interactions/pkg/commons"
)

// State is the scheduler's lifecycle state.
type State string

const (
	StateInit    State = "INIT"
	StateLoading State = "LOADING"
	StateReady   State = "READY"
	StatePlaying State = "PLAYING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
	StateError   State = "ERROR"
)

const (
	DefaultPageLimit = 100
	DefaultSpeed     = 1.0

	// MinSegmentDelay is the floor for inter-segment scheduling so that
	// zero-duration segments cannot starve the scheduler.
	MinSegmentDelay = 10 * time.Millisecond
)

// Observer receives playback progress callbacks. All fields are optional.
// Callbacks run without the scheduler's lock held and may call back into it.
type Observer struct {
	OnSegmentStart func(index int, segment *internal_type.ConversationSegment)
	OnComplete     func()
	OnStateChange  func(from, to State)
}

// Scheduler replays a captured session: it fetches the session's records,
// restores canonical order, segments them and drives sequential playback
// with play/pause/stop/seek control.
//
// Cancellation is enforced by two redundant mechanisms. Stop cancels every
// outstanding timer handle (not-yet-fired callbacks) and bumps the liveness
// epoch that every continuation (timer or audio end event) checks as its
// first action (already-fired callbacks). Handle cancellation alone leaves
// ghost continuations that resume playback after stop.
type Scheduler struct {
	logger   commons.Logger
	fetcher  internal_type.RecordFetcher
	output   internal_type.AudioOutput
	renderer internal_type.SegmentRenderer
	observer Observer

	segOpts   internal_segmentation.Options
	audioCfg  internal_audio.Config
	pageLimit int
	newTimer  TimerFactory

	mu       sync.Mutex
	state    State
	loadErr  error
	segments []*internal_type.ConversationSegment
	current  int
	speed    float64

	// epoch is the liveness flag: bumped by Stop/Pause, snapshotted by every
	// scheduled continuation and compared before it acts.
	epoch uint64

	// Active resource bookkeeping, owned exclusively by this instance.
	nextHandle uint64
	timers     map[uint64]TimerHandle
	sources    map[uint64]internal_type.AudioSource
}

// Option customises a Scheduler.
type Option func(*Scheduler)

func WithObserver(observer Observer) Option {
	return func(s *Scheduler) { s.observer = observer }
}

func WithRenderer(renderer internal_type.SegmentRenderer) Option {
	return func(s *Scheduler) { s.renderer = renderer }
}

func WithSegmentationOptions(opts internal_segmentation.Options) Option {
	return func(s *Scheduler) { s.segOpts = opts }
}

func WithPageLimit(limit int) Option {
	return func(s *Scheduler) { s.pageLimit = limit }
}

func WithSpeed(multiplier float64) Option {
	return func(s *Scheduler) { s.speed = multiplier }
}

// WithTimerFactory injects the timer source; tests use fake time.
func WithTimerFactory(factory TimerFactory) Option {
	return func(s *Scheduler) { s.newTimer = factory }
}

// OptionsFromConfig maps the application configuration onto scheduler
// options: segmentation thresholds and the replay fetch page size.
func OptionsFromConfig(cfg *config.AppConfig) []Option {
	return []Option{
		WithSegmentationOptions(internal_segmentation.OptionsFromConfig(cfg)),
		WithPageLimit(cfg.FetchPageLimit),
	}
}

func NewScheduler(logger commons.Logger, fetcher internal_type.RecordFetcher, output internal_type.AudioOutput, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:    logger,
		fetcher:   fetcher,
		output:    output,
		segOpts:   internal_segmentation.DefaultOptions(),
		audioCfg:  internal_audio.NewLinear16khzMonoConfig(),
		pageLimit: DefaultPageLimit,
		newTimer:  newRealTimer,
		state:     StateInit,
		speed:     DefaultSpeed,
		timers:    make(map[uint64]TimerHandle),
		sources:   make(map[uint64]internal_type.AudioSource),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// State accessors
// ============================================================================

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentSegment returns the index of the segment being (or about to be)
// played.
func (s *Scheduler) CurrentSegment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SegmentCount returns the number of segments of the loaded session.
func (s *Scheduler) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// Err returns the cause of the ERROR state, nil otherwise.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// SetSpeed adjusts the playback speed multiplier for subsequently scheduled
// segments.
func (s *Scheduler) SetSpeed(multiplier float64) {
	if multiplier <= 0 {
		return
	}
	s.mu.Lock()
	s.speed = multiplier
	s.mu.Unlock()
}

// setStateLocked transitions the FSM and returns the OnStateChange
// notification to run once the caller has released mu, so observers may call
// back into the scheduler like they can from OnSegmentStart and OnComplete.
// Caller holds mu and must invoke the returned func after unlocking.
func (s *Scheduler) setStateLocked(to State) func() {
	from := s.state
	cb := s.observer.OnStateChange
	if from == to || cb == nil {
		s.state = to
		return func() {}
	}
	s.state = to
	return func() { cb(from, to) }
}

// ============================================================================
// Load
// ============================================================================

// Load fetches all records for sessionID page by page, restores canonical
// sequence order, segments them and transitions to READY. Any fetch failure
// is terminal for this attempt: the scheduler enters ERROR and the caller
// must retry Load explicitly. No partial playback is offered.
func (s *Scheduler) Load(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if s.state == StateLoading || s.state == StatePlaying || s.state == StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot load while %s", state)
	}
	notify := s.setStateLocked(StateLoading)
	s.loadErr = nil
	s.mu.Unlock()
	notify()

	records, err := s.fetchAll(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("failed to load session %s: %w", sessionID, err)
		s.mu.Lock()
		s.loadErr = err
		notify = s.setStateLocked(StateError)
		s.mu.Unlock()
		notify()
		return err
	}

	internal_segmentation.SortRecords(records)
	segments := internal_segmentation.Segment(records, s.segOpts)

	s.mu.Lock()
	s.segments = segments
	s.current = 0
	notify = s.setStateLocked(StateReady)
	s.mu.Unlock()
	notify()

	s.logger.Infow("session loaded for replay",
		"sessionId", sessionID, "records", len(records), "segments", len(segments))
	return nil
}

func (s *Scheduler) fetchAll(ctx context.Context, sessionID string) ([]*internal_type.InteractionRecord, error) {
	var all []*internal_type.InteractionRecord
	offset := 0
	for {
		page, _, err := s.fetcher.FetchPage(ctx, sessionID, s.pageLimit, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.pageLimit {
			return all, nil
		}
		offset += len(page)
	}
}

// ============================================================================
// Transport control
// ============================================================================

// Play starts sequential playback from the given segment index.
func (s *Scheduler) Play(fromSegmentIndex int) error {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateStopped, StatePaused:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot play while %s", state)
	}
	if fromSegmentIndex < 0 || (fromSegmentIndex >= len(s.segments) && len(s.segments) > 0) {
		s.mu.Unlock()
		return fmt.Errorf("segment index %d out of range [0,%d)", fromSegmentIndex, len(s.segments))
	}

	s.current = fromSegmentIndex
	notify := s.setStateLocked(StatePlaying)
	epoch := s.epoch
	s.mu.Unlock()
	notify()

	s.playSegment(epoch, fromSegmentIndex)
	return nil
}

// Pause freezes the schedule. The currently playing audio source is stopped
// and not resumed mid-sample: Resume restarts at the interrupted segment's
// boundary.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.invalidateLocked()
	notify := s.setStateLocked(StatePaused)
	s.mu.Unlock()
	notify()
}

// Resume continues playback from the start of the segment that was
// interrupted by Pause.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot resume while %s", state)
	}
	index := s.current
	notify := s.setStateLocked(StatePlaying)
	epoch := s.epoch
	s.mu.Unlock()
	notify()

	s.playSegment(epoch, index)
	return nil
}

// Stop cancels playback: it bumps the liveness epoch read by every scheduled
// continuation, cancels every outstanding timer handle, forcibly stops every
// active audio source and clears the bookkeeping sets. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.invalidateLocked()
	notify := s.setStateLocked(StateStopped)
	s.mu.Unlock()
	notify()
}

// invalidateLocked is the shared teardown of Stop and Pause. Caller holds mu.
func (s *Scheduler) invalidateLocked() {
	s.epoch++
	for id, handle := range s.timers {
		handle.Stop()
		delete(s.timers, id)
	}
	for id, source := range s.sources {
		source.Stop()
		delete(s.sources, id)
	}
}

// Seek is stop-then-play at the target segment.
func (s *Scheduler) Seek(segmentIndex int) error {
	s.Stop()
	return s.Play(segmentIndex)
}

// ============================================================================
// Segment playback
// ============================================================================

// playSegment is the continuation at the heart of the schedule. Its first
// action is the liveness check: a stale epoch means the continuation was
// cancelled after its timer or end event had already been dispatched.
func (s *Scheduler) playSegment(epoch uint64, index int) {
	s.mu.Lock()
	if epoch != s.epoch || s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	if index >= len(s.segments) {
		notify := s.setStateLocked(StateStopped)
		onComplete := s.observer.OnComplete
		s.mu.Unlock()
		notify()
		if onComplete != nil {
			onComplete()
		}
		return
	}
	s.current = index
	segment := s.segments[index]
	onSegmentStart := s.observer.OnSegmentStart
	s.mu.Unlock()

	if onSegmentStart != nil {
		onSegmentStart(index, segment)
	}

	switch segment.Type {
	case internal_type.SegmentUserSpeech, internal_type.SegmentApiResponse:
		if s.playAudioSegment(epoch, index, segment) {
			return
		}
		// No playable audio (text-only response or undecodable payload):
		// render synchronously and advance on the clock instead of halting
		// the whole replay.
		if s.renderer != nil {
			s.renderer.RenderSegment(segment)
		}
		s.scheduleNext(epoch, index+1, s.segmentDelay(segment))
	default:
		if s.renderer != nil {
			s.renderer.RenderSegment(segment)
		}
		s.scheduleNext(epoch, index+1, s.segmentDelay(segment))
	}
}

// playAudioSegment concatenates the member payloads into one gapless PCM
// buffer and plays it. Returns false when the segment carries no playable
// audio, so the caller can fall back to clock-based advancement.
func (s *Scheduler) playAudioSegment(epoch uint64, index int, segment *internal_type.ConversationSegment) bool {
	pcm := segment.ConcatenatedPayload()
	if len(pcm) == 0 {
		return false
	}
	if err := internal_audio.ValidatePCM(pcm, s.audioCfg); err != nil {
		s.logger.Warnw("skipping segment with undecodable audio",
			"segment", index, "type", segment.Type, "error", err)
		return false
	}

	s.mu.Lock()
	if epoch != s.epoch || s.state != StatePlaying {
		s.mu.Unlock()
		return true
	}
	id := s.nextHandle
	s.nextHandle++
	s.mu.Unlock()

	source, err := s.output.Play(pcm, segment.SampleRate(s.audioCfg.SampleRate), func() {
		// Natural completion: deregister and chain to the next segment.
		s.mu.Lock()
		delete(s.sources, id)
		s.mu.Unlock()
		s.scheduleNext(epoch, index+1, MinSegmentDelay)
	})
	if err != nil {
		s.logger.Warnw("audio output rejected segment", "segment", index, "error", err)
		return false
	}

	s.mu.Lock()
	if epoch != s.epoch {
		// Stopped between Play and registration: sweep the stray source.
		s.mu.Unlock()
		source.Stop()
		return true
	}
	s.sources[id] = source
	s.mu.Unlock()
	return true
}

// segmentDelay converts a segment's real duration into the wall-clock delay
// before the next segment, compressed by the speed multiplier and clamped so
// zero-duration segments cannot starve the scheduler.
func (s *Scheduler) segmentDelay(segment *internal_type.ConversationSegment) time.Duration {
	s.mu.Lock()
	speed := s.speed
	s.mu.Unlock()

	delay := time.Duration(float64(segment.Duration()) / speed)
	if delay < MinSegmentDelay {
		delay = MinSegmentDelay
	}
	return delay
}

// scheduleNext arms a timer for the next segment and registers its handle in
// the active-timer set so Stop can cancel it before it fires.
func (s *Scheduler) scheduleNext(epoch uint64, index int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.state != StatePlaying {
		return
	}

	id := s.nextHandle
	s.nextHandle++
	s.timers[id] = s.newTimer(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.playSegment(epoch, index)
	})
}

// ActiveResources reports the number of live timers and audio sources. After
// Stop both are zero.
func (s *Scheduler) ActiveResources() (timers, sources int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers), len(s.sources)
}
