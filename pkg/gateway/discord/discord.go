// Package discord adapts a discordgo session to the gateway interfaces:
// guild voice joins, opus decode of inbound speaker streams, opus encode of
// outbound playback, and voice-state bookkeeping.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/audio"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/gateway"
)

const (
	// Discord voice runs 48kHz stereo opus in 20ms frames.
	frameSamples = 960
	frameBytes   = frameSamples * 2 * 2
	frameSpacing = 20 * time.Millisecond

	sendTimeout = time.Second
	eventBuffer = 256
)

// Adapter implements gateway.Gateway over a discordgo session. The session
// must be opened with voice intents before Join is called.
type Adapter struct {
	session *discordgo.Session
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

func New(session *discordgo.Session, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		session: session,
		logger:  logger,
		conns:   make(map[string]*connection),
	}
	session.AddHandler(a.onVoiceStateUpdate)
	return a
}

func (a *Adapter) Join(ctx context.Context, guildID, channelID string) (gateway.Connection, error) {
	vc, err := a.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("joining voice in guild %s: %w", guildID, err)
	}
	c := &connection{
		adapter:   a,
		vc:        vc,
		guildID:   guildID,
		channelID: channelID,
		events:    make(chan gateway.Event, eventBuffer),
		ssrcUsers: make(map[uint32]string),
		decoders:  make(map[uint32]*opus.Decoder),
		done:      make(chan struct{}),
	}
	vc.AddHandler(c.onSpeaking)
	go c.receive()

	a.mu.Lock()
	a.conns[guildID] = c
	a.mu.Unlock()
	return c, nil
}

func (a *Adapter) UserChannel(guildID, userID string) (string, bool) {
	guild, err := a.session.State.Guild(guildID)
	if err != nil {
		return "", false
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, vs.ChannelID != ""
		}
	}
	return "", false
}

func (a *Adapter) BotChannel(guildID string) (string, bool) {
	return a.UserChannel(guildID, a.session.State.User.ID)
}

func (a *Adapter) CanConnectAndSpeak(guildID, channelID string) bool {
	perms, err := a.session.UserChannelPermissions(a.session.State.User.ID, channelID)
	if err != nil {
		a.logger.Warn("permission probe failed",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()))
		return false
	}
	need := int64(discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak)
	return perms&need == need
}

func (a *Adapter) Disconnect(guildID string) error {
	a.mu.Lock()
	c := a.conns[guildID]
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := a.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("sending message to %s: %w", channelID, err)
	}
	return nil
}

// onVoiceStateUpdate forwards binding and membership changes to the guild's
// live connection.
func (a *Adapter) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	a.mu.Lock()
	c := a.conns[vs.GuildID]
	a.mu.Unlock()
	if c == nil {
		return
	}
	if vs.UserID == s.State.User.ID {
		c.emit(gateway.ChannelBinding{ChannelID: vs.ChannelID})
		return
	}
	c.emit(gateway.MembershipChange{HumanCount: c.HumanCount()})
}

func (a *Adapter) humanCount(guildID, channelID string) int {
	guild, err := a.session.State.Guild(guildID)
	if err != nil {
		return 0
	}
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == a.session.State.User.ID {
			continue
		}
		if member, err := a.session.State.Member(guildID, vs.UserID); err == nil && member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}

func (a *Adapter) forget(guildID string, c *connection) {
	a.mu.Lock()
	if a.conns[guildID] == c {
		delete(a.conns, guildID)
	}
	a.mu.Unlock()
}

var _ gateway.Gateway = (*Adapter)(nil)

// connection is one live guild voice connection.
type connection struct {
	adapter *Adapter
	vc      *discordgo.VoiceConnection
	guildID string

	mu        sync.Mutex
	channelID string
	closed    bool
	ssrcUsers map[uint32]string
	decoders  map[uint32]*opus.Decoder

	events chan gateway.Event
	done   chan struct{}
}

func (c *connection) GuildID() string { return c.guildID }

func (c *connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *connection) Rebind(channelID string) {
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
}

func (c *connection) Events() <-chan gateway.Event { return c.events }

func (c *connection) HumanCount() int {
	return c.adapter.humanCount(c.guildID, c.ChannelID())
}

func (c *connection) OpenSink() (gateway.Sink, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("discord: connection closed")
	}
	enc, err := opus.NewEncoder(audio.GatewayFormat.SampleRate, audio.GatewayFormat.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}
	return &sink{conn: c, enc: enc}, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	err := c.vc.Disconnect()
	c.adapter.forget(c.guildID, c)
	close(c.events)
	return err
}

// onSpeaking keeps the SSRC to user mapping current; it is the only place
// Discord tells us which stream belongs to whom.
func (c *connection) onSpeaking(vc *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	c.mu.Lock()
	if vs.UserID != "" {
		c.ssrcUsers[uint32(vs.SSRC)] = vs.UserID
	}
	c.mu.Unlock()
	c.emit(gateway.SpeakingUpdate{UserID: vs.UserID, Speaking: vs.Speaking})
}

// receive decodes inbound opus packets into PCM chunks. One decoder per
// SSRC, since opus decode state is per stream.
func (c *connection) receive() {
	pcm := make([]int16, frameSamples*audio.GatewayFormat.Channels)
	for {
		select {
		case <-c.done:
			return
		case packet, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if packet == nil || len(packet.Opus) == 0 {
				continue
			}
			c.mu.Lock()
			userID := c.ssrcUsers[packet.SSRC]
			dec := c.decoders[packet.SSRC]
			c.mu.Unlock()
			if userID == "" {
				continue
			}
			if dec == nil {
				var err error
				dec, err = opus.NewDecoder(audio.GatewayFormat.SampleRate, audio.GatewayFormat.Channels)
				if err != nil {
					c.emit(gateway.StreamError{UserID: userID, Err: err})
					continue
				}
				c.mu.Lock()
				c.decoders[packet.SSRC] = dec
				c.mu.Unlock()
			}
			n, err := dec.Decode(packet.Opus, pcm)
			if err != nil {
				c.emit(gateway.StreamError{UserID: userID, Err: err})
				continue
			}
			c.emit(gateway.AudioChunk{
				UserID: userID,
				PCM:    audio.Int16ToBytes(pcm[:n*audio.GatewayFormat.Channels]),
			})
		}
	}
}

// emit drops events when the consumer lags; voice data is only useful live.
func (c *connection) emit(ev gateway.Event) {
	select {
	case c.events <- ev:
	default:
		c.adapter.logger.Warn("gateway event dropped",
			slog.String("guild_id", c.guildID))
	}
}

var _ gateway.Connection = (*connection)(nil)

// sink encodes 48kHz stereo PCM to opus and writes it to the voice
// connection one 20ms frame per tick, which is what makes Sink.Write block
// at the channel's absorption rate.
type sink struct {
	conn *connection
	enc  *opus.Encoder

	mu       sync.Mutex
	pending  []byte
	speaking bool
	closed   bool
	lastTick time.Time
}

func (s *sink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("discord: sink closed")
	}
	if !s.speaking {
		if err := s.conn.vc.Speaking(true); err != nil {
			return fmt.Errorf("marking speaking: %w", err)
		}
		s.speaking = true
	}
	s.pending = append(s.pending, pcm...)
	buf := make([]byte, 1024)
	for len(s.pending) >= frameBytes {
		frame := audio.BytesToInt16(s.pending[:frameBytes])
		s.pending = s.pending[frameBytes:]
		n, err := s.enc.Encode(frame, buf)
		if err != nil {
			return fmt.Errorf("encoding frame: %w", err)
		}
		s.pace()
		out := make([]byte, n)
		copy(out, buf[:n])
		select {
		case s.conn.vc.OpusSend <- out:
		case <-time.After(sendTimeout):
			return fmt.Errorf("discord: voice send stalled")
		case <-s.conn.done:
			return fmt.Errorf("discord: connection closed")
		}
	}
	return nil
}

// pace sleeps until the next frame slot so frames go out every 20ms.
func (s *sink) pace() {
	now := time.Now()
	next := s.lastTick.Add(frameSpacing)
	if now.Before(next) {
		time.Sleep(next.Sub(now))
		s.lastTick = next
		return
	}
	s.lastTick = now
}

func (s *sink) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return !s.conn.closed && s.conn.vc.Ready
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.speaking {
		if err := s.conn.vc.Speaking(false); err != nil {
			s.conn.adapter.logger.Debug("clearing speaking flag",
				slog.String("error", err.Error()))
		}
	}
	return nil
}

var _ gateway.Sink = (*sink)(nil)
