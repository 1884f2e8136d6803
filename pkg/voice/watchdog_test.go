package voice

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
)

func TestWatchdogRetriesThenRecoversThenDrops(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	soloSession(t, h)
	conn := h.gw.Conn("g1")

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	// Backend never answers: initial request, two retries, one recommit
	// recovery, then the turn is dropped without ending the session.
	time.Sleep(500 * time.Millisecond)

	is.Equal(h.backend.ResponseCount(), 4) // initial + 2 retries + recovery
	is.Equal(h.backend.CommitCount(), 2)   // initial + recovery recommit
	is.True(h.mgr.Session("g1") != nil)

	s := h.mgr.Session("g1")
	s.mu.Lock()
	is.Equal(s.pending, nil) // dropped, not stuck
	s.mu.Unlock()
}

func TestWatchdogErrorDuringRecoveryEndsSession(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	soloSession(t, h)
	conn := h.gw.Conn("g1")

	boom := errors.New("socket gone")
	h.backend.OnCreateResponse = func(n int) {
		if n == 1 {
			h.backend.SetResponseErr(boom)
		}
	}

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(250 * time.Millisecond)

	is.Equal(h.mgr.Session("g1"), nil)
	is.Equal(endedReasons(h), []string{EndReasonResponseStalled})
}

func TestWatchdogSatisfiedByAudio(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	soloSession(t, h)
	conn := h.gw.Conn("g1")

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(50 * time.Millisecond) // past capture idle, inside silence window
	h.backend.Emit(realtime.AudioDelta{PCM: make([]byte, 960)})
	h.backend.Emit(realtime.ResponseDone{})
	time.Sleep(150 * time.Millisecond)

	is.Equal(h.backend.ResponseCount(), 1) // no retries
	s := h.mgr.Session("g1")
	s.mu.Lock()
	is.Equal(s.pending, nil)
	s.mu.Unlock()
}

func TestDoneWithoutAudioGetsGraceThenRetries(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s := soloSession(t, h)

	is.True(s.beginResponse("u1", chunk()))
	h.backend.Emit(realtime.ResponseDone{})
	time.Sleep(100 * time.Millisecond)

	// beginResponse itself never calls the backend, so any response request
	// seen here came from the post-grace silence path.
	is.True(h.backend.ResponseCount() >= 1)
}

func TestOnePendingResponseAtATime(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.SilenceTimeout = time.Second
	s := soloSession(t, h)

	is.True(s.beginResponse("u1", chunk()))
	is.True(!s.beginResponse("u2", chunk())) // young pending wins
}

func TestSupersedeNeedsAgeAndFresherAudio(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.SilenceTimeout = time.Second
	s := soloSession(t, h)

	is.True(s.beginResponse("u1", chunk()))
	time.Sleep(60 * time.Millisecond) // past SupersedeMinAge

	// Old enough, but no speaker audio since the request: keep waiting.
	is.True(!s.beginResponse("u2", chunk()))

	s.noteInboundAudio()
	is.True(s.beginResponse("u2", chunk()))

	s.mu.Lock()
	is.Equal(s.pending.userID, "u2")
	s.mu.Unlock()
}

func TestWatchdogReschedulesForFresherAudio(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.SilenceTimeout = time.Second
	s := soloSession(t, h)

	is.True(s.beginResponse("u1", chunk()))
	s.mu.Lock()
	oldID := s.pending.id
	s.mu.Unlock()
	is.Equal(h.backend.ResponseCount(), 0)

	// Speaker audio arrives after the request; declared silence must drop
	// the stale response and reissue against the fresh buffer.
	s.noteInboundAudio()
	s.onWatchdogSilence(oldID)

	s.mu.Lock()
	is.True(s.pending != nil)
	is.True(s.pending.id != oldID) // stale response dropped
	is.Equal(s.pending.retries, 0) // rescheduling spends no retries
	is.Equal(s.pending.userID, "u1")
	s.mu.Unlock()
	is.Equal(h.backend.ResponseCount(), 1) // one fresh request, no recommit
	is.Equal(h.backend.CommitCount(), 0)
}

func TestStaleTimerCallbackIgnored(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.mgr.opts.SilenceTimeout = time.Second
	s := soloSession(t, h)

	is.True(s.beginResponse("u1", chunk()))
	s.mu.Lock()
	oldID := s.pending.id
	s.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	s.noteInboundAudio()
	is.True(s.beginResponse("u2", chunk()))

	// A silence callback armed for the superseded response must not touch
	// the current one.
	s.onWatchdogSilence(oldID)
	s.mu.Lock()
	is.Equal(s.pending.retries, 0)
	is.Equal(s.pending.userID, "u2")
	s.mu.Unlock()
	is.Equal(h.backend.ResponseCount(), 0)
}
