package voice

import (
	"log/slog"
	"time"
)

// pendingResponse tracks the single backend response a session may be
// waiting on. Ids are monotonic per session so late timer callbacks can
// tell whether the response they were armed for is still current.
type pendingResponse struct {
	id        int64
	userID    string
	pcm       []byte
	createdAt time.Time
	audioAt   time.Time
	retries   int
	recovered bool
}

// beginResponse installs a new pending response for a just-committed turn.
// At most one response is pending at a time: an existing one is superseded
// only when it is older than the minimum age and fresher speaker audio has
// arrived since it was created; otherwise the new turn is dropped.
func (s *Session) beginResponse(userID string, pcm []byte) bool {
	now := time.Now()
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return false
	}
	if p := s.pending; p != nil {
		age := now.Sub(p.createdAt)
		fresher := s.lastInbound.After(p.createdAt)
		if age < s.opts.SupersedeMinAge || !fresher {
			s.mu.Unlock()
			s.logger.Debug("dropping turn, response already pending",
				slog.String("user_id", userID),
				slog.Int64("pending_id", p.id),
				slog.Duration("pending_age", age))
			return false
		}
		s.logger.Info("superseding stalled response",
			slog.Int64("pending_id", p.id),
			slog.String("user_id", userID))
	}
	s.requestSeq++
	s.pending = &pendingResponse{
		id:        s.requestSeq,
		userID:    userID,
		pcm:       pcm,
		createdAt: now,
	}
	id := s.requestSeq
	s.mu.Unlock()

	s.armWatchdog(id)
	return true
}

func (s *Session) armWatchdog(id int64) {
	s.timers.set(timerWatchdog, s.opts.SilenceTimeout, func() {
		s.onWatchdogSilence(id)
	})
}

// onAudioDelta feeds reply audio to the pacer and satisfies the watchdog.
func (s *Session) onAudioDelta(pcm []byte) {
	s.mu.Lock()
	if p := s.pending; p != nil && p.audioAt.IsZero() {
		p.audioAt = time.Now()
	}
	s.mu.Unlock()
	s.timers.clear(timerWatchdog)
	s.pacer.play(pcm)
}

// onResponseDone clears the pending response if reply audio was heard. A
// done without any audio gets a short grace period before the silence path
// takes over, since some backends emit the terminal event slightly ahead of
// the last buffered delta.
func (s *Session) onResponseDone() {
	s.mu.Lock()
	p := s.pending
	if p == nil {
		s.mu.Unlock()
		return
	}
	if !p.audioAt.IsZero() {
		s.pending = nil
		s.mu.Unlock()
		s.timers.clear(timerWatchdog)
		s.touchActivity(false)
		return
	}
	id := p.id
	s.mu.Unlock()

	s.logger.Debug("response done without audio, granting grace",
		slog.Int64("pending_id", id))
	s.timers.set(timerWatchdog, s.opts.DoneGrace, func() {
		s.onWatchdogSilence(id)
	})
}

// onWatchdogSilence runs when a pending response produced no audio within
// the silence window. Fresh speaker audio since the request means the
// request went out against an already-stale buffer, so the stale response
// is dropped and a new one is issued immediately against the fresh buffer
// without spending a retry. After bounded retries one hard recovery
// (recommit plus a fresh response request) is attempted; past that the
// turn is dropped and the session lives on. Any error thrown while
// recovering ends the session as stalled.
func (s *Session) onWatchdogSilence(id int64) {
	s.mu.Lock()
	p := s.pending
	if p == nil || p.id != id || s.ending {
		s.mu.Unlock()
		return
	}
	if !p.audioAt.IsZero() {
		s.mu.Unlock()
		return
	}
	if s.lastInbound.After(p.createdAt) {
		s.requestSeq++
		next := &pendingResponse{
			id:        s.requestSeq,
			userID:    p.userID,
			pcm:       p.pcm,
			createdAt: time.Now(),
		}
		s.pending = next
		s.mu.Unlock()
		s.logger.Debug("silent response dropped, rescheduling against fresher speaker audio",
			slog.Int64("pending_id", id),
			slog.Int64("rescheduled_id", next.id))
		if err := s.backend.CreateResponse(); err != nil {
			s.stalled(next.id, err)
			return
		}
		s.armWatchdog(next.id)
		return
	}
	var action string
	switch {
	case p.retries < s.opts.MaxResponseRetries:
		p.retries++
		p.createdAt = time.Now()
		action = "retry"
	case !p.recovered:
		p.recovered = true
		p.createdAt = time.Now()
		action = "recover"
	default:
		s.pending = nil
		action = "drop"
	}
	retries := p.retries
	pcm := p.pcm
	s.mu.Unlock()

	switch action {
	case "retry":
		s.logger.Warn("response silent, retrying",
			slog.Int64("pending_id", id),
			slog.Int("attempt", retries))
		if err := s.backend.CreateResponse(); err != nil {
			s.stalled(id, err)
			return
		}
		s.armWatchdog(id)
	case "recover":
		s.logger.Warn("response silent after retries, recommitting turn",
			slog.Int64("pending_id", id))
		if err := s.recommit(pcm); err != nil {
			s.stalled(id, err)
			return
		}
		s.armWatchdog(id)
	case "drop":
		s.logger.Warn("response unrecoverable, dropping turn",
			slog.Int64("pending_id", id))
		s.timers.clear(timerWatchdog)
	}
}

// recommit replays the turn's audio and asks for a fresh response.
func (s *Session) recommit(pcm []byte) error {
	if len(pcm) > 0 {
		if err := s.backend.AppendAudio(pcm); err != nil {
			return err
		}
	}
	if err := s.backend.CommitAudio(); err != nil {
		return err
	}
	return s.backend.CreateResponse()
}

func (s *Session) stalled(id int64, err error) {
	s.logger.Error("response recovery failed",
		slog.Int64("pending_id", id),
		slog.String("error", err.Error()))
	s.mgr.endSession(s, EndReasonResponseStalled, false)
}
