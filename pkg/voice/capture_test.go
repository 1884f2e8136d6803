package voice

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
)

// soloSession joins and scripts a single-human channel so turns pass the
// addressing gate without a transcript.
func soloSession(t *testing.T, h *harness) *Session {
	t.Helper()
	s := h.join(t, "g1", "u1", "vc1")
	h.gw.Conn("g1").SetHumanCount(1)
	return s
}

func TestIdleFinalizeStreamsTurn(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	soloSession(t, h)
	conn := h.gw.Conn("g1")

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(50 * time.Millisecond) // past capture idle, inside silence window
	h.backend.Emit(realtime.AudioDelta{PCM: make([]byte, 960)})
	h.backend.Emit(realtime.ResponseDone{})
	time.Sleep(100 * time.Millisecond)

	is.Equal(h.backend.CommitCount(), 1)
	is.Equal(h.backend.ResponseCount(), 1) // satisfied, no retries
	is.Equal(len(h.backend.Appended), 1)   // one turn, chunks coalesced
}

func TestSpeakingStopFinalizesEarly(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	soloSession(t, h)
	conn := h.gw.Conn("g1")

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	conn.Emit(gateway.SpeakingUpdate{UserID: "u1", Speaking: false})
	time.Sleep(20 * time.Millisecond)

	is.Equal(h.backend.CommitCount(), 1)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s := soloSession(t, h)
	conn := h.gw.Conn("g1")

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(10 * time.Millisecond)

	// Explicit end racing the idle timer: only one turn may come out.
	s.finalizeCapture("u1", finalizeExplicitEnd)
	s.finalizeCapture("u1", finalizeIdle)
	time.Sleep(80 * time.Millisecond)

	is.Equal(h.backend.CommitCount(), 1)
}

func TestEmptyCaptureIsDiscarded(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s := soloSession(t, h)

	s.finalizeCapture("u1", finalizeIdle) // no capture open
	time.Sleep(20 * time.Millisecond)

	is.Equal(h.backend.CommitCount(), 0)
}

func TestEchoSuppressedAudioNeverOpensCapture(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	s := soloSession(t, h)
	conn := h.gw.Conn("g1")

	s.pacer.markPlayed(time.Now())
	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(80 * time.Millisecond)

	is.Equal(h.backend.CommitCount(), 0)
	s.mu.Lock()
	is.Equal(len(s.captures), 0)
	s.mu.Unlock()
}

func TestGroupTurnWithoutTranscriptIsBlocked(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	h.join(t, "g1", "u1", "vc1")
	conn := h.gw.Conn("g1")
	conn.SetHumanCount(3)

	conn.Emit(gateway.AudioChunk{UserID: "u1", PCM: chunk()})
	time.Sleep(100 * time.Millisecond)

	is.Equal(h.backend.CommitCount(), 0)
}

func TestReplyAudioReachesChannel(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)
	soloSession(t, h)
	conn := h.gw.Conn("g1")

	h.backend.Emit(realtime.AudioDelta{PCM: make([]byte, 960)})
	h.backend.Emit(realtime.ResponseDone{})
	time.Sleep(60 * time.Millisecond)

	sink := conn.Sink()
	is.True(sink != nil)
	is.True(len(sink.Writes()) > 0)
}
