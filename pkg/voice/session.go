// Package voice is the realtime voice runtime: per-guild sessions that
// capture speech turns from a voice channel, gate them through the
// addressing engine, stream them to a speech backend, and play replies back
// with pacing and failure recovery.
package voice

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/addressing"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/audio"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/store"
)

// Session end reasons.
const (
	EndReasonMaxDuration     = "max_duration"
	EndReasonInactivity      = "inactivity"
	EndReasonDisconnected    = "disconnected"
	EndReasonSwitchChannel   = "switch_channel"
	EndReasonBackendError    = "backend_error"
	EndReasonSocketClosed    = "socket_closed"
	EndReasonResponseStalled = "response_stalled"
	EndReasonRequested       = "requested"
	EndReasonShutdown        = "shutdown"
)

// Timer names owned by a session's timer group.
const (
	timerMaxDuration     = "session.max_duration"
	timerInactivity      = "session.inactivity"
	timerDisconnectGrace = "session.disconnect_grace"
	timerWatchdog        = "watchdog.silence"

	capturePrefix = "capture."
)

// Session is one live voice-channel engagement for one guild. Owned by the
// Manager; all handlers no-op once the session is ending.
type Session struct {
	guildID       string
	channelID     string
	textChannelID string
	requesterID   string
	mode          string

	mgr     *Manager
	backend realtime.Client
	conn    gateway.Connection
	pacer   *pacer
	timers  *timerGroup
	queue   *turnQueue
	logger  *slog.Logger
	opts    Options

	mu           sync.Mutex
	ending       bool
	started      time.Time
	lastActivity time.Time
	lastTouch    time.Time
	captures     map[string]*capture
	pending      *pendingResponse
	focus        addressing.FocusWindow
	lastInbound  time.Time
	cleanups     []func()
	requestSeq   int64
}

// Options are the tuning knobs for a session. Zero values are replaced by
// defaults; out-of-range lifecycle timers are clamped.
type Options struct {
	BotName             string
	MaxSessionDuration  time.Duration // clamped 1-120 min
	InactivityTimeout   time.Duration // clamped 20s-3600s
	DisconnectGrace     time.Duration
	CaptureIdle         time.Duration
	CaptureMax          time.Duration
	EchoSuppressWindow  time.Duration
	SilenceTimeout      time.Duration
	DoneGrace           time.Duration
	MaxResponseRetries  int
	SupersedeMinAge     time.Duration
	FocusWindowTTL      time.Duration
	ActivityThrottle    time.Duration
	BackendInputFormat  audio.Format
	BackendOutputFormat audio.Format
}

func (o *Options) normalize() {
	clampDur := func(d *time.Duration, def, lo, hi time.Duration) {
		if *d == 0 {
			*d = def
		}
		if *d < lo {
			*d = lo
		}
		if *d > hi {
			*d = hi
		}
	}
	clampDur(&o.MaxSessionDuration, 45*time.Minute, time.Minute, 120*time.Minute)
	clampDur(&o.InactivityTimeout, 5*time.Minute, 20*time.Second, time.Hour)
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = 15 * time.Second
	}
	if o.CaptureIdle <= 0 {
		o.CaptureIdle = 1200 * time.Millisecond
	}
	if o.CaptureMax <= 0 {
		o.CaptureMax = 25 * time.Second
	}
	if o.EchoSuppressWindow <= 0 {
		o.EchoSuppressWindow = 800 * time.Millisecond
	}
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 6 * time.Second
	}
	if o.DoneGrace <= 0 {
		o.DoneGrace = 1500 * time.Millisecond
	}
	if o.MaxResponseRetries <= 0 {
		o.MaxResponseRetries = 2
	}
	if o.SupersedeMinAge <= 0 {
		o.SupersedeMinAge = 2 * time.Second
	}
	if o.FocusWindowTTL <= 0 {
		o.FocusWindowTTL = 30 * time.Second
	}
	if o.ActivityThrottle <= 0 {
		o.ActivityThrottle = 2 * time.Second
	}
	if o.BackendInputFormat.SampleRate == 0 {
		o.BackendInputFormat = audio.BackendFormat
	}
	if o.BackendOutputFormat.SampleRate == 0 {
		o.BackendOutputFormat = audio.BackendFormat
	}
}

// start arms lifecycle timers and launches the event dispatchers.
func (s *Session) start() {
	now := time.Now()
	s.mu.Lock()
	s.started = now
	s.lastActivity = now
	s.mu.Unlock()

	s.timers.set(timerMaxDuration, s.opts.MaxSessionDuration, func() {
		s.mgr.endSession(s, EndReasonMaxDuration, false)
	})
	s.armInactivity()

	go s.dispatchGateway()
	if s.backend != nil {
		go s.dispatchBackend()
	}
}

func (s *Session) armInactivity() {
	s.timers.set(timerInactivity, s.opts.InactivityTimeout, func() {
		s.mgr.endSession(s, EndReasonInactivity, false)
	})
}

// touchActivity postpones the inactivity end. Chunk-rate callers pass
// throttled=true so the timer is not rescheduled hundreds of times a second.
func (s *Session) touchActivity(throttled bool) {
	now := time.Now()
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return
	}
	if throttled && now.Sub(s.lastTouch) < s.opts.ActivityThrottle {
		s.mu.Unlock()
		return
	}
	s.lastTouch = now
	s.lastActivity = now
	s.mu.Unlock()
	s.armInactivity()
}

func (s *Session) isEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending
}

// addCleanup registers a teardown hook run during endSession.
func (s *Session) addCleanup(fn func()) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// dispatchGateway consumes the connection's event stream.
func (s *Session) dispatchGateway() {
	for ev := range s.conn.Events() {
		if s.isEnding() {
			return
		}
		switch e := ev.(type) {
		case gateway.AudioChunk:
			s.onInboundAudio(e.UserID, e.PCM)
		case gateway.SpeakingUpdate:
			if !e.Speaking {
				s.finalizeCapture(e.UserID, finalizeExplicitEnd)
			}
		case gateway.StreamError:
			s.logger.Warn("inbound stream error",
				slog.String("user_id", e.UserID),
				slog.String("error", e.Err.Error()))
			s.finalizeCapture(e.UserID, finalizeStreamError)
		case gateway.ChannelBinding:
			s.onChannelBinding(e.ChannelID)
		case gateway.MembershipChange:
			if e.HumanCount == 0 {
				// Alone in the channel counts as inactivity, not an error.
				s.touchActivity(false)
			}
		}
	}
}

// onChannelBinding handles the bot's channel binding changing. A transient
// loss starts the disconnect grace timer; if the gateway still shows the bot
// connected when it fires, the session self-heals its recorded channel id.
func (s *Session) onChannelBinding(channelID string) {
	if channelID != "" {
		s.timers.clear(timerDisconnectGrace)
		s.mu.Lock()
		s.channelID = channelID
		s.mu.Unlock()
		s.conn.Rebind(channelID)
		return
	}
	s.timers.set(timerDisconnectGrace, s.opts.DisconnectGrace, func() {
		if s.isEnding() {
			return
		}
		if current, ok := s.mgr.gw.BotChannel(s.guildID); ok && current != "" {
			s.logger.Info("disconnect grace: still connected, healing channel binding",
				slog.String("guild_id", s.guildID),
				slog.String("channel_id", current))
			s.mu.Lock()
			s.channelID = current
			s.mu.Unlock()
			s.conn.Rebind(current)
			return
		}
		s.mgr.endSession(s, EndReasonDisconnected, false)
	})
}

// dispatchBackend consumes the realtime client's event stream.
func (s *Session) dispatchBackend() {
	for ev := range s.backend.Events() {
		if s.isEnding() {
			return
		}
		switch e := ev.(type) {
		case realtime.AudioDelta:
			s.onAudioDelta(e.PCM)
		case realtime.Transcript:
			s.onTranscript(e)
		case realtime.ResponseDone:
			s.onResponseDone()
		case realtime.ErrorEvent:
			if e.Fatal {
				s.logger.Error("fatal backend error",
					slog.String("guild_id", s.guildID),
					slog.String("code", e.Code),
					slog.String("message", e.Message))
				s.mgr.endSession(s, EndReasonBackendError, false)
				return
			}
			s.logger.Warn("backend error",
				slog.String("code", e.Code),
				slog.String("message", e.Message))
		case realtime.SocketClosed:
			s.logger.Warn("backend socket closed",
				slog.String("guild_id", s.guildID),
				slog.Int("code", e.Code),
				slog.String("reason", e.Reason))
			s.mgr.endSession(s, EndReasonSocketClosed, false)
			return
		}
	}
	// The stream can close without its terminal event when the backend's
	// buffer was full at teardown; the backend is gone either way.
	if !s.isEnding() {
		s.logger.Warn("backend event stream ended without close event",
			slog.String("guild_id", s.guildID))
		s.mgr.endSession(s, EndReasonSocketClosed, false)
	}
}

func (s *Session) onTranscript(t realtime.Transcript) {
	kind := "voice_transcript_in"
	if t.Kind == realtime.TranscriptOutput {
		kind = "voice_transcript_out"
	}
	s.mgr.record(store.Entry{
		Kind:      kind,
		GuildID:   s.guildID,
		ChannelID: s.channelID,
		Content:   t.Text,
	})
}

// noteInboundAudio records that fresh speaker audio exists; the watchdog
// uses this to distinguish stale responses from dead ones.
func (s *Session) noteInboundAudio() {
	s.mu.Lock()
	s.lastInbound = time.Now()
	s.mu.Unlock()
}

func (s *Session) participantCount() int {
	return s.conn.HumanCount()
}

// GuildID returns the owning guild.
func (s *Session) GuildID() string { return s.guildID }

// ChannelID returns the currently bound voice channel.
func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Mode returns the backend mode the session was started with.
func (s *Session) Mode() string { return s.mode }

// Duration reports how long the session has been alive.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.started)
}

// UpdateInstructions hot-swaps backend context mid-session.
func (s *Session) UpdateInstructions(text string) error {
	if s.isEnding() || s.backend == nil {
		return nil
	}
	return s.backend.UpdateInstructions(text)
}
