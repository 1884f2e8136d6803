package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/addressing"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/audio/wav"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/store"
)

// turnTimeout bounds the blocking work for one turn: transcription, the
// addressing classifier, and (in pipeline mode) the full respond cycle.
const turnTimeout = 60 * time.Second

// Transcriber turns a WAV-framed clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}

// Responder produces a spoken reply for a turn; used when the session runs
// without a realtime backend. transcript may be empty if the gate never
// needed one, in which case the responder transcribes the clip itself. The
// returned PCM is mono at the session's backend output rate.
type Responder interface {
	Respond(ctx context.Context, transcript string, pcm []byte) (replyPCM []byte, replyText string, err error)
}

// processTurn runs on the session's turn queue: gate the turn, then either
// stream it to the realtime backend or run the transcribe-respond-speak
// pipeline. pcm is already in the backend's input format.
func (s *Session) processTurn(userID string, pcm []byte) {
	if s.isEnding() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	count := s.participantCount()
	transcript := ""
	needTranscript := count > 1 && !s.focus.ActiveFor(userID, time.Now())
	if needTranscript {
		transcript = s.transcribeTurn(ctx, userID, pcm)
	}

	d := s.mgr.engine.AssessTurn(ctx, addressing.Turn{
		SpeakerID:        userID,
		Transcript:       transcript,
		ParticipantCount: count,
	}, &s.focus)
	s.logger.Debug("turn assessed",
		slog.String("user_id", userID),
		slog.Bool("allow", d.Allow),
		slog.String("reason", d.Reason),
		slog.Int("participants", d.ParticipantCount))
	if !d.Allow {
		return
	}

	if s.backend != nil {
		s.streamTurn(userID, pcm)
		return
	}
	s.pipelineTurn(ctx, userID, pcm, transcript)
}

// transcribeTurn frames the clip as WAV and runs it through the
// transcriber. Failures degrade to an empty transcript, which the gate
// treats as not addressed.
func (s *Session) transcribeTurn(ctx context.Context, userID string, pcm []byte) string {
	if s.mgr.transcriber == nil {
		return ""
	}
	data, err := wav.Encode(pcm, s.opts.BackendInputFormat.SampleRate, s.opts.BackendInputFormat.Channels)
	if err != nil {
		s.logger.Warn("turn wav framing failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return ""
	}
	text, err := s.mgr.transcriber.Transcribe(ctx, data)
	if err != nil {
		s.logger.Warn("turn transcription failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return ""
	}
	return text
}

// streamTurn pushes a gated turn to the realtime backend and registers the
// pending response for the watchdog.
func (s *Session) streamTurn(userID string, pcm []byte) {
	if !s.beginResponse(userID, pcm) {
		return
	}
	if err := s.backend.AppendAudio(pcm); err != nil {
		s.abandonPending("append audio", err)
		return
	}
	if err := s.backend.CommitAudio(); err != nil {
		s.abandonPending("commit audio", err)
		return
	}
	if err := s.backend.CreateResponse(); err != nil {
		s.abandonPending("create response", err)
		return
	}
}

func (s *Session) abandonPending(op string, err error) {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.timers.clear(timerWatchdog)
	s.logger.Warn("turn send failed",
		slog.String("op", op),
		slog.String("error", err.Error()))
}

// pipelineTurn handles a gated turn without a realtime backend: transcribe
// if the gate did not already, compose a reply, synthesize it, and play it.
func (s *Session) pipelineTurn(ctx context.Context, userID string, pcm []byte, transcript string) {
	if s.mgr.responder == nil {
		return
	}
	reply, replyText, err := s.mgr.responder.Respond(ctx, transcript, pcm)
	if err != nil {
		s.logger.Warn("pipeline respond failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	if replyText != "" {
		s.mgr.record(store.Entry{
			Kind:      "voice_transcript_out",
			GuildID:   s.guildID,
			ChannelID: s.channelID,
			UserID:    userID,
			Content:   replyText,
		})
	}
	if len(reply) > 0 {
		s.pacer.play(reply)
		s.touchActivity(false)
	}
}
