package voice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/audio"
)

// Finalize reasons, logged with each completed turn.
const (
	finalizeIdle        = "idle"
	finalizeMaxLength   = "max_length"
	finalizeExplicitEnd = "speaking_stopped"
	finalizeStreamError = "stream_error"
)

// capture accumulates one speaker's in-progress utterance. One capture per
// speaker; finalize hands the buffered PCM to the turn queue exactly once.
type capture struct {
	userID  string
	session *Session

	mu         sync.Mutex
	pcm        []byte
	suppressed bool
	startedAt  time.Time
	finalized  bool
}

func (s *Session) captureTimerName(userID, which string) string {
	return capturePrefix + which + "." + userID
}

// onInboundAudio routes a 48kHz stereo chunk from the gateway into the
// speaker's capture, converting to the backend's input format. Chunks that
// arrive while the bot's own playback is fresh are dropped as echo, but
// still rearm the idle timer so a capture does not finalize mid-suppression.
func (s *Session) onInboundAudio(userID string, pcm []byte) {
	if s.isEnding() || len(pcm) == 0 {
		return
	}
	s.noteInboundAudio()
	s.touchActivity(true)

	echo := s.pacer.echoActive(time.Now())

	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return
	}
	c, ok := s.captures[userID]
	if !ok {
		if echo {
			// Nothing buffered yet; suppressed audio never opens a capture.
			s.mu.Unlock()
			return
		}
		c = &capture{userID: userID, session: s, startedAt: time.Now()}
		s.captures[userID] = c
		s.timers.set(s.captureTimerName(userID, "max"), s.opts.CaptureMax, func() {
			s.finalizeCapture(userID, finalizeMaxLength)
		})
	}
	s.mu.Unlock()

	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	if echo {
		c.suppressed = true
	} else {
		c.pcm = append(c.pcm, audio.Convert(pcm, audio.GatewayFormat, s.opts.BackendInputFormat)...)
	}
	c.mu.Unlock()

	s.timers.set(s.captureTimerName(userID, "idle"), s.opts.CaptureIdle, func() {
		s.finalizeCapture(userID, finalizeIdle)
	})
}

// finalizeCapture closes a speaker's capture and enqueues the turn.
// Idempotent: idle timer, max timer, speaking-stopped, and stream-error
// paths can all race here and only the first wins.
func (s *Session) finalizeCapture(userID, reason string) {
	s.mu.Lock()
	c, ok := s.captures[userID]
	if ok {
		delete(s.captures, userID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.timers.clear(s.captureTimerName(userID, "idle"))
	s.timers.clear(s.captureTimerName(userID, "max"))

	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	pcm := c.pcm
	c.pcm = nil
	suppressed := c.suppressed
	startedAt := c.startedAt
	c.mu.Unlock()

	if len(pcm) == 0 {
		if suppressed {
			s.logger.Debug("discarding echo-only capture",
				slog.String("user_id", userID))
		}
		return
	}

	s.logger.Debug("turn captured",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("held", time.Since(startedAt)))

	s.queue.enqueue(func() {
		s.processTurn(userID, pcm)
	})
}

// dropAllCaptures destroys every open capture without emitting turns, used
// at teardown. Marking them finalized keeps late inbound chunks from
// buffering into a dead session.
func (s *Session) dropAllCaptures() {
	s.mu.Lock()
	captures := s.captures
	s.captures = make(map[string]*capture)
	s.mu.Unlock()
	for _, c := range captures {
		c.mu.Lock()
		c.finalized = true
		c.pcm = nil
		c.mu.Unlock()
	}
}
