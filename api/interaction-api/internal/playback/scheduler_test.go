// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_playback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	"github.com/rapidaai/interactions/config"
	"github.com/rapidaai/interactions/pkg/commons"
)

// ============================================================================
// Fake time
// ============================================================================

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

// fakeTimers collects scheduled continuations so tests can advance time by
// hand, including firing a callback whose handle was already stopped, which
// models a timer that had been dispatched into the event queue before Stop.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) factory(d time.Duration, fn func()) TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// firePending runs every not-yet-stopped pending callback once.
func (f *fakeTimers) firePending() int {
	f.mu.Lock()
	pending := f.timers
	f.timers = nil
	f.mu.Unlock()

	fired := 0
	for _, t := range pending {
		if !t.stopped {
			t.fn()
			fired++
		}
	}
	return fired
}

// fireAllIgnoringStop runs pending callbacks even if their handles were
// stopped, the already-dispatched-callback race.
func (f *fakeTimers) fireAllIgnoringStop() {
	f.mu.Lock()
	pending := f.timers
	f.timers = nil
	f.mu.Unlock()

	for _, t := range pending {
		t.fn()
	}
}

// ============================================================================
// Fake audio output
// ============================================================================

type fakeSource struct {
	stopped bool
}

func (s *fakeSource) Stop() { s.stopped = true }

type playCall struct {
	pcm        []byte
	sampleRate int
	onEnded    func()
	source     *fakeSource
}

type fakeOutput struct {
	mu    sync.Mutex
	calls []*playCall
	err   error
}

func (o *fakeOutput) Play(pcm []byte, sampleRate int, onEnded func()) (internal_type.AudioSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	call := &playCall{pcm: pcm, sampleRate: sampleRate, onEnded: onEnded, source: &fakeSource{}}
	o.calls = append(o.calls, call)
	return call.source, nil
}

func (o *fakeOutput) PlayAt(pcm []byte, sampleRate int, at time.Duration) (internal_type.AudioSource, error) {
	return o.Play(pcm, sampleRate, nil)
}

func (o *fakeOutput) ClockNow() time.Duration { return 0 }

func (o *fakeOutput) playCalls() []*playCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*playCall(nil), o.calls...)
}

// ============================================================================
// Fake fetcher
// ============================================================================

type fakeFetcher struct {
	records []*internal_type.InteractionRecord
	err     error
	pages   int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, sessionID string, limit, offset int) ([]*internal_type.InteractionRecord, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	f.pages++
	if offset >= len(f.records) {
		return nil, int64(len(f.records)), nil
	}
	end := offset + limit
	if end > len(f.records) {
		end = len(f.records)
	}
	return f.records[offset:end], int64(len(f.records)), nil
}

// ============================================================================
// Record fixtures
// ============================================================================

var replayStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func speechRecord(seq uint64, at time.Duration, pcm []byte) *internal_type.InteractionRecord {
	r := &internal_type.InteractionRecord{
		SessionId:      "session-a",
		SequenceNumber: seq,
		Type:           internal_type.RecordAudioChunk,
		Timestamp:      replayStart.Add(at),
		Metadata: map[string]string{
			internal_type.MetadataMicrophoneOn: "true",
			internal_type.MetadataSampleRate:   strconv.Itoa(16000),
		},
	}
	if pcm != nil {
		r.Media = &internal_type.MediaAttachment{
			StorageKind: internal_type.StorageInline,
			Payload:     pcm,
		}
	}
	return r
}

func responseRecord(seq uint64, at time.Duration, payload []byte) *internal_type.InteractionRecord {
	r := &internal_type.InteractionRecord{
		SessionId:      "session-a",
		SequenceNumber: seq,
		Type:           internal_type.RecordApiResponse,
		Timestamp:      replayStart.Add(at),
	}
	if payload != nil {
		r.Media = &internal_type.MediaAttachment{
			StorageKind: internal_type.StorageInline,
			Payload:     payload,
		}
	}
	return r
}

// twoTurnSession: a 1s speech segment (two chunks, inline PCM) followed by a
// text-only api_response segment 10s later.
func twoTurnSession() []*internal_type.InteractionRecord {
	return []*internal_type.InteractionRecord{
		speechRecord(0, 0, make([]byte, 3200)),
		speechRecord(1, time.Second, make([]byte, 3200)),
		responseRecord(2, 11*time.Second, nil),
		responseRecord(3, 12*time.Second, nil),
	}
}

func newTestScheduler(t *testing.T, fetcher internal_type.RecordFetcher, output internal_type.AudioOutput, opts ...Option) (*Scheduler, *fakeTimers) {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	timers := &fakeTimers{}
	base := []Option{WithTimerFactory(timers.factory)}
	return NewScheduler(logger, fetcher, output, append(base, opts...)...), timers
}

func loadSession(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Load(context.Background(), "session-a"))
	require.Equal(t, StateReady, s.State())
}

// ============================================================================
// Configuration wiring
// ============================================================================

func TestOptionsFromConfig_ReachTheScheduler(t *testing.T) {
	cfg := &config.AppConfig{
		FetchPageLimit:   2,
		SegmentMergeGap:  time.Second,
		MinSpeechElapsed: 200 * time.Millisecond,
	}
	fetcher := &fakeFetcher{records: twoTurnSession()}
	s, _ := newTestScheduler(t, fetcher, &fakeOutput{}, OptionsFromConfig(cfg)...)

	assert.Equal(t, 2, s.pageLimit)
	assert.Equal(t, time.Second, s.segOpts.MergeGap)
	assert.Equal(t, 200*time.Millisecond, s.segOpts.MinSpeechDuration)

	loadSession(t, s)
	assert.Equal(t, 3, fetcher.pages, "4 records at page size 2: two full pages plus the short one")
}

// ============================================================================
// Load
// ============================================================================

func TestLoad_PaginatesUntilShortPage(t *testing.T) {
	var records []*internal_type.InteractionRecord
	for i := 0; i < 250; i++ {
		records = append(records, speechRecord(uint64(i), time.Duration(i)*100*time.Millisecond, nil))
	}
	fetcher := &fakeFetcher{records: records}

	s, _ := newTestScheduler(t, fetcher, &fakeOutput{}, WithPageLimit(100))
	loadSession(t, s)

	assert.Equal(t, 3, fetcher.pages, "100+100+50")
	assert.Equal(t, 1, s.SegmentCount(), "contiguous speech collapses to one segment")
}

func TestLoad_SortsOutOfOrderArrivals(t *testing.T) {
	records := twoTurnSession()
	// Network-reordered arrival.
	shuffled := []*internal_type.InteractionRecord{records[2], records[0], records[3], records[1]}
	fetcher := &fakeFetcher{records: shuffled}

	s, _ := newTestScheduler(t, fetcher, &fakeOutput{})
	loadSession(t, s)

	assert.Equal(t, 2, s.SegmentCount())
}

func TestLoad_FailureIsTerminal(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("backend unavailable")}
	s, _ := newTestScheduler(t, fetcher, &fakeOutput{})

	err := s.Load(context.Background(), "session-a")
	require.Error(t, err)
	assert.Equal(t, StateError, s.State())
	assert.ErrorContains(t, s.Err(), "session-a")

	// Explicit retry after the transport recovers.
	fetcher.err = nil
	fetcher.records = twoTurnSession()
	require.NoError(t, s.Load(context.Background(), "session-a"))
	assert.Equal(t, StateReady, s.State())
	assert.NoError(t, s.Err())
}

// ============================================================================
// Play / sequential scheduling
// ============================================================================

func TestPlay_AudioSegmentThenTimedSegment(t *testing.T) {
	output := &fakeOutput{}
	var started []int
	completed := false

	s, timers := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output,
		WithObserver(Observer{
			OnSegmentStart: func(index int, _ *internal_type.ConversationSegment) {
				started = append(started, index)
			},
			OnComplete: func() { completed = true },
		}))
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	assert.Equal(t, StatePlaying, s.State())

	// Segment 0 is gapless audio: both member payloads in one buffer.
	calls := output.playCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].pcm, 6400)
	assert.Equal(t, 16000, calls[0].sampleRate)

	// Segment 1 never starts before segment 0's completion signal.
	assert.Equal(t, []int{0}, started)

	calls[0].onEnded()      // audio end event
	timers.firePending()    // inter-segment hop → segment 1 (text, timed)
	assert.Equal(t, []int{0, 1}, started)

	timers.firePending() // segment 1's clock delay elapses → completion
	assert.True(t, completed)
	assert.Equal(t, StateStopped, s.State())

	activeTimers, activeSources := s.ActiveResources()
	assert.Zero(t, activeTimers)
	assert.Zero(t, activeSources)
}

func TestPlay_FromIndex(t *testing.T) {
	output := &fakeOutput{}
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output)
	loadSession(t, s)

	require.NoError(t, s.Play(1))
	assert.Equal(t, 1, s.CurrentSegment())
	assert.Empty(t, output.playCalls(), "starting at the text segment plays no audio")
}

func TestPlay_InvalidState(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeFetcher{}, &fakeOutput{})
	assert.Error(t, s.Play(0), "cannot play before load")
}

func TestPlay_IndexOutOfRange(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, &fakeOutput{})
	loadSession(t, s)
	assert.Error(t, s.Play(99))
	assert.Error(t, s.Play(-1))
}

func TestPlay_SkipsUndecodableSegment(t *testing.T) {
	// Truncated PCM: frame-split payload in an otherwise valid speech run.
	records := []*internal_type.InteractionRecord{
		speechRecord(0, 0, []byte{1, 2, 3}),
		speechRecord(1, time.Second, nil),
		responseRecord(2, 11*time.Second, nil),
	}
	output := &fakeOutput{}
	var started []int

	s, timers := newTestScheduler(t, &fakeFetcher{records: records}, output,
		WithObserver(Observer{
			OnSegmentStart: func(index int, _ *internal_type.ConversationSegment) {
				started = append(started, index)
			},
		}))
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	assert.Empty(t, output.playCalls(), "undecodable audio never reaches the output")

	timers.firePending()
	assert.Equal(t, []int{0, 1}, started, "one corrupt segment must not abort the replay")
}

// ============================================================================
// Pause / resume
// ============================================================================

func TestPause_StopsAudioAndResumeRestartsSegment(t *testing.T) {
	output := &fakeOutput{}
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output)
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	first := output.playCalls()[0]

	s.Pause()
	assert.Equal(t, StatePaused, s.State())
	assert.True(t, first.source.stopped, "pause stops the playing source")

	// The interrupted source's end event (if it still arrives) is stale.
	first.onEnded()
	assert.Equal(t, 0, s.CurrentSegment())

	require.NoError(t, s.Resume())
	calls := output.playCalls()
	require.Len(t, calls, 2, "resume restarts at the segment boundary")
	assert.Equal(t, calls[0].pcm, calls[1].pcm)
}

func TestResume_OnlyFromPaused(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, &fakeOutput{})
	loadSession(t, s)
	assert.Error(t, s.Resume())
}

// ============================================================================
// Stop: idempotency and ghost continuations
// ============================================================================

func TestStop_Idempotent(t *testing.T) {
	output := &fakeOutput{}
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output)
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	s.Stop()
	stateAfterFirst := s.State()
	s.Stop()

	assert.Equal(t, stateAfterFirst, s.State())
	assert.Equal(t, StateStopped, s.State())

	activeTimers, activeSources := s.ActiveResources()
	assert.Zero(t, activeTimers, "no residual timers after stop")
	assert.Zero(t, activeSources, "no residual audio sources after stop")
	assert.True(t, output.playCalls()[0].source.stopped, "stop sweeps active sources")
}

func TestStop_NoGhostContinuation(t *testing.T) {
	output := &fakeOutput{}
	s, timers := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output)
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	output.playCalls()[0].onEnded() // arms the timer for segment 1
	indexBefore := s.CurrentSegment()

	s.Stop()

	// Advance fake time past every armed delay, including callbacks that had
	// already been dispatched and could not be physically revoked.
	timers.fireAllIgnoringStop()

	assert.Equal(t, StateStopped, s.State(), "stale continuation must not resume playback")
	assert.Equal(t, indexBefore, s.CurrentSegment(), "stale continuation must not move the cursor")
	assert.Empty(t, output.playCalls()[1:], "no new audio after stop")
}

func TestStop_StaleAudioEndEvent(t *testing.T) {
	output := &fakeOutput{}
	s, timers := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output)
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	call := output.playCalls()[0]
	s.Stop()

	// End event of the force-stopped source arrives late.
	call.onEnded()
	timers.fireAllIgnoringStop()

	assert.Equal(t, StateStopped, s.State())
	assert.Len(t, output.playCalls(), 1)
}

// ============================================================================
// Seek
// ============================================================================

func TestSeek_StopsThenPlaysTarget(t *testing.T) {
	output := &fakeOutput{}
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, output)
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	require.NoError(t, s.Seek(1))

	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, 1, s.CurrentSegment())
	assert.True(t, output.playCalls()[0].source.stopped, "seek sweeps the previous segment's audio")
}

// ============================================================================
// Speed
// ============================================================================

func TestSpeed_CompressesInterSegmentDelay(t *testing.T) {
	records := []*internal_type.InteractionRecord{
		responseRecord(0, 0, nil),
		responseRecord(1, 2*time.Second, nil),
		responseRecord(2, 10*time.Second, nil),
	}
	s, timers := newTestScheduler(t, &fakeFetcher{records: records}, &fakeOutput{}, WithSpeed(2))
	loadSession(t, s)
	require.Equal(t, 2, s.SegmentCount())

	require.NoError(t, s.Play(0))
	timers.mu.Lock()
	require.Len(t, timers.timers, 1)
	delay := timers.timers[0].delay
	timers.mu.Unlock()

	assert.Equal(t, time.Second, delay, "2s segment at 2x speed waits 1s")
}

func TestSpeed_ZeroDurationSegmentClamped(t *testing.T) {
	records := []*internal_type.InteractionRecord{
		responseRecord(0, 0, nil),
		responseRecord(1, 10*time.Second, nil),
	}
	s, timers := newTestScheduler(t, &fakeFetcher{records: records}, &fakeOutput{}, WithSpeed(100))
	loadSession(t, s)

	require.NoError(t, s.Play(0))
	timers.mu.Lock()
	require.Len(t, timers.timers, 1)
	delay := timers.timers[0].delay
	timers.mu.Unlock()

	assert.GreaterOrEqual(t, delay, MinSegmentDelay, "zero-duration segments cannot starve the scheduler")
}

// ============================================================================
// State change notifications
// ============================================================================

func TestObserver_StateTransitions(t *testing.T) {
	var transitions []string
	s, _ := newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, &fakeOutput{},
		WithObserver(Observer{
			OnStateChange: func(from, to State) {
				transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
			},
		}))

	require.NoError(t, s.Load(context.Background(), "session-a"))
	require.NoError(t, s.Play(0))
	s.Pause()
	require.NoError(t, s.Resume())
	s.Stop()

	assert.Equal(t, []string{
		"INIT->LOADING",
		"LOADING->READY",
		"READY->PLAYING",
		"PLAYING->PAUSED",
		"PAUSED->PLAYING",
		"PLAYING->STOPPED",
	}, transitions)
}

func TestObserver_StateChangeMayReenterScheduler(t *testing.T) {
	var observed []State
	var s *Scheduler
	s, _ = newTestScheduler(t, &fakeFetcher{records: twoTurnSession()}, &fakeOutput{},
		WithObserver(Observer{
			OnStateChange: func(from, to State) {
				// Reading back through the public API must not deadlock.
				observed = append(observed, s.State())
			},
		}))

	require.NoError(t, s.Load(context.Background(), "session-a"))
	require.NoError(t, s.Play(0))
	s.Stop()

	assert.Equal(t, []State{StateLoading, StateReady, StatePlaying, StateStopped}, observed,
		"each notification sees the state it announced")
}
