// Package bot is the text-command surface: a small prefix-command handler
// that drives the voice manager from guild text channels.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/notify"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/realtime"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/voice"
)

const commandTimeout = 15 * time.Second

type Bot struct {
	session  *discordgo.Session
	manager  *voice.Manager
	notifier notify.Notifier
	prefix   string
	logger   *slog.Logger

	remove func()
}

func New(session *discordgo.Session, manager *voice.Manager, notifier notify.Notifier, prefix string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Silent{}
	}
	return &Bot{
		session:  session,
		manager:  manager,
		notifier: notifier,
		prefix:   prefix,
		logger:   logger,
	}
}

// Start installs the message handler.
func (b *Bot) Start() {
	b.remove = b.session.AddHandler(b.onMessage)
}

// Stop removes the message handler.
func (b *Bot) Stop() {
	if b.remove != nil {
		b.remove()
		b.remove = nil
	}
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	fields := strings.Fields(m.Content)
	if len(fields) == 0 || !strings.EqualFold(fields[0], b.prefix) {
		return
	}
	command := "join"
	if len(fields) > 1 {
		command = strings.ToLower(fields[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch command {
	case "join":
		mode := ""
		if len(fields) > 2 {
			mode = strings.ToLower(fields[2])
		}
		b.join(ctx, m, mode)
	case "leave":
		if !b.manager.Leave(m.GuildID) {
			b.notifier.Notify(ctx, m.ChannelID, "leave_noop", "no_session", "",
				"i'm not in a voice channel here")
		}
	case "status":
		b.status(ctx, m)
	case "modes":
		modes := append(realtime.Modes(), voice.ModePipeline)
		b.notifier.Notify(ctx, m.ChannelID, "modes", "listing",
			strings.Join(modes, ", "),
			"backends: "+strings.Join(modes, ", "))
	default:
		b.notifier.Notify(ctx, m.ChannelID, "unknown_command", command, "",
			fmt.Sprintf("try `%s join`, `%s leave`, or `%s status`", b.prefix, b.prefix, b.prefix))
	}
}

func (b *Bot) join(ctx context.Context, m *discordgo.MessageCreate, mode string) {
	s, err := b.manager.RequestJoin(ctx, voice.JoinRequest{
		GuildID:       m.GuildID,
		RequesterID:   m.Author.ID,
		TextChannelID: m.ChannelID,
		Mode:          mode,
	})
	if err != nil {
		reason, fallback := refusal(err)
		b.logger.Info("join refused",
			slog.String("guild_id", m.GuildID),
			slog.String("user_id", m.Author.ID),
			slog.String("reason", reason))
		b.notifier.Notify(ctx, m.ChannelID, "join_refused", reason, err.Error(), fallback)
		return
	}
	b.notifier.Notify(ctx, m.ChannelID, "joined", "requested",
		fmt.Sprintf("mode %s", s.Mode()),
		"on my way to voice chat")
}

func (b *Bot) status(ctx context.Context, m *discordgo.MessageCreate) {
	s := b.manager.Session(m.GuildID)
	if s == nil {
		b.notifier.Notify(ctx, m.ChannelID, "status", "idle", "",
			"not in voice right now")
		return
	}
	b.notifier.Notify(ctx, m.ChannelID, "status", "active",
		fmt.Sprintf("mode %s, up %s", s.Mode(), s.Duration().Round(time.Second)),
		fmt.Sprintf("in voice for %s", s.Duration().Round(time.Second)))
}

// refusal maps a join error to a notify reason code and a fallback line.
func refusal(err error) (string, string) {
	switch {
	case errors.Is(err, voice.ErrDisabled):
		return "feature_disabled", "voice chat is switched off right now"
	case errors.Is(err, voice.ErrUserBlocked):
		return "user_blocked", "can't take voice requests from you"
	case errors.Is(err, voice.ErrGuildBlocked):
		return "guild_blocked", "voice chat isn't enabled for this server"
	case errors.Is(err, voice.ErrChannelBlocked):
		return "channel_blocked", "that channel is off limits for me"
	case errors.Is(err, voice.ErrNotInVoice):
		return "requester_not_in_voice", "hop into a voice channel first"
	case errors.Is(err, voice.ErrConcurrentLimit):
		return "concurrent_limit", "i'm already in too many calls"
	case errors.Is(err, voice.ErrDailyLimit):
		return "daily_limit", "i've hit my voice quota for today"
	case errors.Is(err, voice.ErrNoCredentials):
		return "missing_credentials", "voice backend isn't configured"
	case errors.Is(err, voice.ErrNoPermission):
		return "missing_permissions", "i can't connect or speak in that channel"
	default:
		return "join_failed", "couldn't make it into voice chat"
	}
}
