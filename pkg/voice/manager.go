package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/addressing"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/notify"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/store"
)

// Join refusals surfaced to the caller.
var (
	ErrDisabled        = errors.New("voice: feature disabled")
	ErrGuildBlocked    = errors.New("voice: guild not allowed")
	ErrUserBlocked     = errors.New("voice: requester is blocked")
	ErrChannelBlocked  = errors.New("voice: channel not allowed")
	ErrNotInVoice      = errors.New("voice: requester is not in a voice channel")
	ErrConcurrentLimit = errors.New("voice: concurrent session limit reached")
	ErrDailyLimit      = errors.New("voice: daily session limit reached")
	ErrNoCredentials   = errors.New("voice: backend credentials missing")
	ErrNoPermission    = errors.New("voice: missing connect or speak permission")
)

// BackendFactory builds an unconnected realtime client for a mode. A nil
// factory (or the "pipeline" mode) runs sessions through the Responder
// pipeline instead.
type BackendFactory func(mode string) (realtime.Client, error)

// ModePipeline runs without a realtime backend.
const ModePipeline = "pipeline"

// ManagerConfig wires a Manager. Gateway and Engine are required.
type ManagerConfig struct {
	Gateway     gateway.Gateway
	Engine      *addressing.Engine
	Transcriber Transcriber
	Responder   Responder
	Notifier    notify.Notifier
	Actions     store.ActionLogger
	NewBackend  BackendFactory

	// PipelineReady, when set, is probed on every pipeline-mode join so a
	// dead transcription or synthesis service refuses the join instead of
	// producing a session that cannot answer.
	PipelineReady func(ctx context.Context) error

	// DefaultMode is used when a join request names no backend mode.
	// Empty falls back to openai when a factory exists, pipeline otherwise.
	DefaultMode string

	Voice        string
	Instructions string

	// Disabled turns RequestJoin into a refusal without dismantling the
	// rest of the wiring.
	Disabled bool

	MaxConcurrent   int // 0 = unlimited
	MaxDaily        int // 0 = unlimited
	BlockedGuilds   []string
	AllowedGuilds   []string // empty = all guilds allowed
	BlockedUsers    []string
	BlockedChannels []string
	AllowedChannels []string // empty = all channels allowed

	Session Options
	Logger  *slog.Logger
}

// Manager owns all live voice sessions, one per guild, and enforces join
// policy: allow/block lists, caps, permission probing, and per-guild join
// serialization.
type Manager struct {
	gw          gateway.Gateway
	engine      *addressing.Engine
	transcriber Transcriber
	responder   Responder
	notifier    notify.Notifier
	actions     store.ActionLogger
	newBackend  BackendFactory
	plReady     func(ctx context.Context) error

	mode         string
	voiceName    string
	instructions string

	disabled        bool
	maxConcurrent   int
	maxDaily        int
	blocked         map[string]bool
	allowed         map[string]bool
	blockedUsers    map[string]bool
	blockedChannels map[string]bool
	allowedChannels map[string]bool

	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	joinLocks map[string]*sync.Mutex
	dailyDay  string
	dailyUsed int
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Silent{}
	}
	opts := cfg.Session
	opts.normalize()
	toSet := func(ids []string) map[string]bool {
		m := make(map[string]bool, len(ids))
		for _, id := range ids {
			m[id] = true
		}
		return m
	}
	return &Manager{
		gw:              cfg.Gateway,
		engine:          cfg.Engine,
		transcriber:     cfg.Transcriber,
		responder:       cfg.Responder,
		notifier:        notifier,
		actions:         cfg.Actions,
		newBackend:      cfg.NewBackend,
		plReady:         cfg.PipelineReady,
		mode:            cfg.DefaultMode,
		voiceName:       cfg.Voice,
		instructions:    cfg.Instructions,
		disabled:        cfg.Disabled,
		maxConcurrent:   cfg.MaxConcurrent,
		maxDaily:        cfg.MaxDaily,
		blocked:         toSet(cfg.BlockedGuilds),
		allowed:         toSet(cfg.AllowedGuilds),
		blockedUsers:    toSet(cfg.BlockedUsers),
		blockedChannels: toSet(cfg.BlockedChannels),
		allowedChannels: toSet(cfg.AllowedChannels),
		opts:            opts,
		logger:          logger,
		sessions:        make(map[string]*Session),
		joinLocks:       make(map[string]*sync.Mutex),
	}
}

// JoinRequest asks the manager to join the requester's voice channel.
type JoinRequest struct {
	GuildID       string
	RequesterID   string
	TextChannelID string
	Mode          string
}

// joinLock serializes joins per guild so concurrent requests cannot open
// two connections or double-count caps.
func (m *Manager) joinLock(guildID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.joinLocks[guildID]
	if !ok {
		l = &sync.Mutex{}
		m.joinLocks[guildID] = l
	}
	return l
}

// RequestJoin validates and executes a join. Checks run in a fixed order:
// feature flag, requester and guild policy, requester presence in voice,
// channel policy, existing-session handling (same channel touches it, a
// different channel replaces it), caps, backend credentials, then the
// permission probe. Nothing connects until every check has passed.
func (m *Manager) RequestJoin(ctx context.Context, req JoinRequest) (*Session, error) {
	lock := m.joinLock(req.GuildID)
	lock.Lock()
	defer lock.Unlock()

	if m.disabled {
		return nil, ErrDisabled
	}
	if m.blockedUsers[req.RequesterID] {
		return nil, ErrUserBlocked
	}
	if !m.guildAllowed(req.GuildID) {
		return nil, ErrGuildBlocked
	}

	channelID, ok := m.gw.UserChannel(req.GuildID, req.RequesterID)
	if !ok || channelID == "" {
		return nil, ErrNotInVoice
	}
	if !m.channelAllowed(channelID) {
		return nil, ErrChannelBlocked
	}

	if existing := m.Session(req.GuildID); existing != nil {
		if existing.ChannelID() == channelID {
			existing.touchActivity(false)
			return existing, nil
		}
		m.endSession(existing, EndReasonSwitchChannel, true)
	} else {
		if err := m.checkCaps(); err != nil {
			return nil, err
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = m.defaultMode()
	}
	if mode != ModePipeline && m.newBackend == nil {
		return nil, ErrNoCredentials
	}
	if mode == ModePipeline {
		if m.responder == nil {
			return nil, ErrNoCredentials
		}
		if m.plReady != nil {
			if err := m.plReady(ctx); err != nil {
				return nil, fmt.Errorf("%w: pipeline not ready: %s", ErrNoCredentials, err)
			}
		}
	}

	if !m.gw.CanConnectAndSpeak(req.GuildID, channelID) {
		return nil, ErrNoPermission
	}
	req.Mode = mode

	conn, err := m.gw.Join(ctx, req.GuildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("joining voice channel: %w", err)
	}

	s, err := m.buildSession(ctx, req, channelID, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[req.GuildID] = s
	m.countDailyLocked()
	m.mu.Unlock()

	s.start()
	m.record(store.Entry{
		Kind:      "voice_session_started",
		GuildID:   req.GuildID,
		ChannelID: channelID,
		UserID:    req.RequesterID,
		Content:   s.mode,
	})
	m.logger.Info("voice session started",
		slog.String("guild_id", req.GuildID),
		slog.String("channel_id", channelID),
		slog.String("mode", s.mode))
	return s, nil
}

func (m *Manager) defaultMode() string {
	if m.mode != "" {
		return m.mode
	}
	if m.newBackend != nil {
		return realtime.ModeOpenAI
	}
	return ModePipeline
}

func (m *Manager) channelAllowed(channelID string) bool {
	if m.blockedChannels[channelID] {
		return false
	}
	if len(m.allowedChannels) > 0 && !m.allowedChannels[channelID] {
		return false
	}
	return true
}

func (m *Manager) buildSession(ctx context.Context, req JoinRequest, channelID string, conn gateway.Connection) (*Session, error) {
	mode := req.Mode
	var backend realtime.Client
	if mode != ModePipeline {
		if m.newBackend == nil {
			return nil, fmt.Errorf("voice: mode %q requires a backend factory", mode)
		}
		b, err := m.newBackend(mode)
		if err != nil {
			return nil, fmt.Errorf("building %s backend: %w", mode, err)
		}
		err = b.Connect(ctx, realtime.SessionConfig{
			Voice:            m.voiceName,
			Instructions:     m.instructions,
			InputSampleRate:  m.opts.BackendInputFormat.SampleRate,
			OutputSampleRate: m.opts.BackendOutputFormat.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting %s backend: %w", mode, err)
		}
		backend = b
	}

	logger := m.logger.With(slog.String("guild_id", req.GuildID))
	s := &Session{
		guildID:       req.GuildID,
		channelID:     channelID,
		textChannelID: req.TextChannelID,
		requesterID:   req.RequesterID,
		mode:          mode,
		mgr:           m,
		backend:       backend,
		conn:          conn,
		timers:        newTimerGroup(),
		queue:         newTurnQueue(),
		logger:        logger,
		opts:          m.opts,
		captures:      make(map[string]*capture),
	}
	s.pacer = newPacer(conn, nil, m.opts.BackendOutputFormat, m.opts.EchoSuppressWindow, logger)
	return s, nil
}

func (m *Manager) guildAllowed(guildID string) bool {
	if m.blocked[guildID] {
		return false
	}
	if len(m.allowed) > 0 && !m.allowed[guildID] {
		return false
	}
	return true
}

func (m *Manager) checkCaps() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxConcurrent > 0 && len(m.sessions) >= m.maxConcurrent {
		return ErrConcurrentLimit
	}
	day := time.Now().Format("2006-01-02")
	if day != m.dailyDay {
		m.dailyDay = day
		m.dailyUsed = 0
	}
	if m.maxDaily > 0 && m.dailyUsed >= m.maxDaily {
		return ErrDailyLimit
	}
	return nil
}

func (m *Manager) countDailyLocked() {
	day := time.Now().Format("2006-01-02")
	if day != m.dailyDay {
		m.dailyDay = day
		m.dailyUsed = 0
	}
	m.dailyUsed++
}

// Session returns the live session for a guild, if any.
func (m *Manager) Session(guildID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[guildID]
}

// ActiveSessions reports the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Leave ends the guild's session at the user's request.
func (m *Manager) Leave(guildID string) bool {
	s := m.Session(guildID)
	if s == nil {
		return false
	}
	m.endSession(s, EndReasonRequested, false)
	return true
}

// Shutdown ends every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.endSession(s, EndReasonShutdown, true)
	}
}

// endSession tears a session down exactly once: the ending flag flips
// first so every handler and timer callback already in flight becomes a
// no-op, then resources unwind in dependency order.
func (m *Manager) endSession(s *Session, reason string, silent bool) {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return
	}
	s.ending = true
	s.pending = nil
	cleanups := s.cleanups
	s.cleanups = nil
	channelID := s.channelID
	started := s.started
	s.mu.Unlock()

	s.timers.stopAll()
	s.dropAllCaptures()
	s.queue.close()
	s.pacer.close()
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Debug("backend close", slog.String("error", err.Error()))
		}
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("connection close", slog.String("error", err.Error()))
		// The connection object is wedged; drop whatever the gateway still
		// holds for this guild.
		if derr := m.gw.Disconnect(s.guildID); derr != nil {
			s.logger.Debug("gateway disconnect fallback", slog.String("error", derr.Error()))
		}
	}
	for _, fn := range cleanups {
		fn()
	}

	m.mu.Lock()
	if m.sessions[s.guildID] == s {
		delete(m.sessions, s.guildID)
	}
	m.mu.Unlock()

	m.record(store.Entry{
		Kind:      "voice_session_ended",
		GuildID:   s.guildID,
		ChannelID: channelID,
		Content:   reason,
	})
	m.logger.Info("voice session ended",
		slog.String("guild_id", s.guildID),
		slog.String("reason", reason),
		slog.Duration("duration", time.Since(started)))

	if !silent && s.textChannelID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.notifier.Notify(ctx, s.textChannelID, "voice_session_ended", reason,
			fmt.Sprintf("session lasted %s", time.Since(started).Round(time.Second)),
			"i'm heading out of voice chat")
	}
}

// record appends to the action log when one is configured.
func (m *Manager) record(e store.Entry) {
	if m.actions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.actions.Append(ctx, e); err != nil {
		m.logger.Warn("action log append failed", slog.String("error", err.Error()))
	}
}
