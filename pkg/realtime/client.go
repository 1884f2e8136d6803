// Package realtime defines the normalized contract for duplex websocket
// speech backends and provides one adapter per supported vendor. Adapters
// translate the vendor wire protocol into a single event stream so the
// session layer never sees vendor JSON.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Client is a duplex audio session with one speech backend.
//
// Connect must complete the vendor handshake before returning. AppendAudio
// buffers input audio and never triggers a reply by itself. CommitAudio
// closes the current input turn. CreateResponse requests exactly one reply;
// it is a no-op on backends that auto-reply on commit. UpdateInstructions
// hot-swaps context without reconnecting. Close shuts the socket down
// gracefully with a bounded forced-terminate fallback.
type Client interface {
	Connect(ctx context.Context, cfg SessionConfig) error
	AppendAudio(pcm []byte) error
	CommitAudio() error
	CreateResponse() error
	UpdateInstructions(text string) error
	Close() error

	// Events delivers the normalized event stream. The channel is closed
	// after a SocketClosed event has been delivered.
	Events() <-chan Event
}

// SessionConfig carries per-session parameters into Connect.
type SessionConfig struct {
	Voice            string
	Instructions     string
	InputSampleRate  int
	OutputSampleRate int
}

// Config carries vendor credentials and tuning into a factory.
type Config struct {
	APIKey  string
	Model   string
	AgentID string // elevenlabs conversational agent id
	BaseURL string // override for tests
	Logger  *slog.Logger
}

// Handshake and shutdown bounds shared by all adapters.
const (
	ConnectTimeout = 10 * time.Second
	closeTimeout   = 3 * time.Second
)

var (
	ErrNotConnected  = errors.New("realtime: not connected")
	ErrMissingAPIKey = errors.New("realtime: missing API key")
)
