// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_playback

import "time"

// TimerHandle is one scheduled continuation. Stop prevents a not-yet-fired
// callback from running; a callback already dispatched cannot be revoked,
// which is why every continuation also checks the scheduler's liveness epoch
// before acting.
type TimerHandle interface {
	Stop() bool
}

// TimerFactory schedules fn after d. Injectable so tests can drive fake time.
type TimerFactory func(d time.Duration, fn func()) TimerHandle

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Stop() bool {
	return r.t.Stop()
}

func newRealTimer(d time.Duration, fn func()) TimerHandle {
	return &realTimer{t: time.AfterFunc(d, fn)}
}
