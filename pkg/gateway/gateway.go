// Package gateway defines the voice-gateway collaborator: the chat-platform
// surface that owns channel membership, per-speaker inbound audio, and the
// outbound PCM sink. The runtime only ever sees these interfaces; the
// discord subpackage provides the production implementation.
package gateway

import "context"

// Gateway is the platform-level surface used by the session manager.
type Gateway interface {
	// Join connects the bot to a voice channel and returns the live
	// connection. Fails fast if the channel cannot be joined.
	Join(ctx context.Context, guildID, channelID string) (Connection, error)

	// UserChannel reports which voice channel a user currently occupies.
	UserChannel(guildID, userID string) (channelID string, ok bool)

	// BotChannel reports the bot's current voice channel in a guild, if any.
	// Used for the disconnect-grace self-heal and as a teardown fallback.
	BotChannel(guildID string) (channelID string, ok bool)

	// CanConnectAndSpeak probes connect+speak permission in a channel.
	CanConnectAndSpeak(guildID, channelID string) bool

	// Disconnect force-drops any voice connection in the guild. Teardown
	// fallback when a session has lost its Connection handle.
	Disconnect(guildID string) error

	// SendMessage posts to a text channel (operational messaging).
	SendMessage(ctx context.Context, channelID, content string) error
}

// Connection is one live voice-channel binding owned by a Session.
type Connection interface {
	GuildID() string
	ChannelID() string

	// Rebind updates the recorded channel id after a verified move.
	Rebind(channelID string)

	// Events delivers inbound audio and state changes. Closed when the
	// connection dies.
	Events() <-chan Event

	// OpenSink creates (or recreates) the outbound raw-PCM sink.
	OpenSink() (Sink, error)

	// HumanCount returns the number of non-bot members in the channel.
	HumanCount() int

	Close() error
}

// Sink absorbs outbound 48 kHz stereo PCM.
type Sink interface {
	// Write blocks until the sink has absorbed the chunk.
	Write(pcm []byte) error

	// Alive reports whether the sink can still absorb audio.
	Alive() bool

	Close() error
}

// Event is a tagged variant from a Connection.
type Event interface {
	gatewayEvent()
}

// AudioChunk is decoded inbound PCM (48 kHz stereo) from one speaker.
type AudioChunk struct {
	UserID string
	PCM    []byte
}

// SpeakingUpdate signals a speaker starting or stopping speech.
type SpeakingUpdate struct {
	UserID   string
	Speaking bool
}

// ChannelBinding reports the bot's channel binding changing. An empty
// ChannelID means the binding was lost (possibly transiently).
type ChannelBinding struct {
	ChannelID string
}

// MembershipChange reports the human population of the channel changing.
type MembershipChange struct {
	HumanCount int
}

// StreamError reports a broken inbound stream for one speaker.
type StreamError struct {
	UserID string
	Err    error
}

func (AudioChunk) gatewayEvent()       {}
func (SpeakingUpdate) gatewayEvent()   {}
func (ChannelBinding) gatewayEvent()   {}
func (MembershipChange) gatewayEvent() {}
func (StreamError) gatewayEvent()      {}
