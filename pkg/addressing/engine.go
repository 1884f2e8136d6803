package addressing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Decision reason codes.
const (
	ReasonSingleHuman       = "single_human_participant"
	ReasonFocusedSpeaker    = "focused_speaker"
	ReasonNeedsTranscript   = "needs_addressing_transcript"
	ReasonNameMatch         = "name_match"
	ReasonClassifierYes     = "classifier_yes"
	ReasonNotAddressed      = "not_addressed_in_group"
	ReasonContractExhausted = "classifier_contract_exhausted"
)

// Decision is the ephemeral outcome of assessing one turn. Never persisted.
type Decision struct {
	Allow            bool
	Reason           string
	ParticipantCount int
	FocusActive      bool
	Addressed        bool
	Transcript       string
}

// Turn describes one finalized speech segment for assessment.
type Turn struct {
	SpeakerID        string
	Transcript       string
	ParticipantCount int
}

// FocusWindow grants a recently-addressed speaker transcript-free follow-ups
// until expiry or a speaker switch.
type FocusWindow struct {
	UserID    string
	ExpiresAt time.Time
}

// ActiveFor reports whether the window currently covers the speaker.
func (w *FocusWindow) ActiveFor(userID string, now time.Time) bool {
	return w != nil && w.UserID == userID && userID != "" && now.Before(w.ExpiresAt)
}

// Arm points the window at the speaker and restarts the clock.
func (w *FocusWindow) Arm(userID string, now time.Time, ttl time.Duration) {
	w.UserID = userID
	w.ExpiresAt = now.Add(ttl)
}

// Classifier is the narrow LLM surface the engine needs: one yes/no call.
type Classifier interface {
	ClassifyYesNo(ctx context.Context, system, user string) (string, error)
}

// Engine gates turns through shortcuts, the phonetic matcher, and the
// bounded-retry LLM classifier.
type Engine struct {
	matcher    *Matcher
	classifier Classifier
	botName    string
	maxRetries int
	focusTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// EngineConfig configures an Engine. MaxClassifierRetries bounds retries on
// contract violations; FocusWindowTTL is how long an addressed speaker keeps
// the floor.
type EngineConfig struct {
	BotName              string
	Classifier           Classifier
	MaxClassifierRetries int
	FocusWindowTTL       time.Duration
	Logger               *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxClassifierRetries
	if retries < 0 {
		retries = 0
	}
	ttl := cfg.FocusWindowTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Engine{
		matcher:    NewMatcher(cfg.BotName),
		classifier: cfg.Classifier,
		botName:    cfg.BotName,
		maxRetries: retries,
		focusTTL:   ttl,
		logger:     logger,
		now:        time.Now,
	}
}

// AssessTurn decides whether the agent should respond to a turn. The focus
// window is armed when the turn explicitly addresses the agent in a
// multi-party room, and consulted for transcript-free follow-ups.
func (e *Engine) AssessTurn(ctx context.Context, turn Turn, focus *FocusWindow) Decision {
	d := Decision{
		ParticipantCount: turn.ParticipantCount,
		Transcript:       turn.Transcript,
	}
	now := e.now()

	if turn.ParticipantCount <= 1 {
		d.Allow = true
		d.Reason = ReasonSingleHuman
		return d
	}

	if focus.ActiveFor(turn.SpeakerID, now) {
		d.Allow = true
		d.FocusActive = true
		d.Reason = ReasonFocusedSpeaker
		return d
	}

	if strings.TrimSpace(turn.Transcript) == "" {
		d.Reason = ReasonNeedsTranscript
		return d
	}

	match := e.matcher.Assess(turn.Transcript)
	if match.Match {
		d.Allow = true
		d.Addressed = true
		d.Reason = ReasonNameMatch
		if focus != nil {
			focus.Arm(turn.SpeakerID, now, e.focusTTL)
		}
		return d
	}

	verdict, err := e.classify(ctx, turn)
	if err != nil {
		// Contract retries exhausted: block ambiguous turns, but fail open
		// when a name-like token already pointed at the agent.
		if match.NameLike {
			d.Allow = true
			d.Addressed = true
			d.Reason = ReasonContractExhausted
			if focus != nil {
				focus.Arm(turn.SpeakerID, now, e.focusTTL)
			}
			return d
		}
		d.Reason = ReasonContractExhausted
		return d
	}

	if verdict == VerdictYes {
		d.Allow = true
		d.Addressed = true
		d.Reason = ReasonClassifierYes
		if focus != nil {
			focus.Arm(turn.SpeakerID, now, e.focusTTL)
		}
		return d
	}
	d.Reason = ReasonNotAddressed
	return d
}

var errContractViolated = fmt.Errorf("addressing: classifier contract violated")

func (e *Engine) classify(ctx context.Context, turn Turn) (Verdict, error) {
	if e.classifier == nil {
		return VerdictViolation, errContractViolated
	}
	system := fmt.Sprintf(
		"You decide if an utterance in a group voice chat is directed at %q. Answer with exactly YES or NO.",
		e.botName)
	user := fmt.Sprintf("Speakers present: %d. Utterance: %q", turn.ParticipantCount, turn.Transcript)

	attempts := e.maxRetries + 1
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return VerdictViolation, err
		}
		raw, err := e.classifier.ClassifyYesNo(ctx, system, user)
		if err != nil {
			e.logger.Warn("addressing classifier call failed",
				slog.Int("attempt", i+1), slog.String("error", err.Error()))
			continue
		}
		if v := ParseVerdict(raw); v != VerdictViolation {
			return v, nil
		}
		e.logger.Warn("addressing classifier contract violation",
			slog.Int("attempt", i+1), slog.String("output", truncate(raw, 120)))
	}
	return VerdictViolation, errContractViolated
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
