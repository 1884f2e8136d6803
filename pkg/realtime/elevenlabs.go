package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const elevenLabsConvaiURL = "wss://api.elevenlabs.io/v1/convai/conversation"

func init() {
	Register(ModeElevenLabs, newElevenLabsClient)
}

// elevenLabsClient drives the ElevenLabs Conversational AI websocket. The
// agent replies on its own cadence, so CommitAudio and CreateResponse are
// no-ops; agent_response marks the end of a reply.
type elevenLabsClient struct {
	*socket
	apiKey  string
	agentID string
	url     string
}

func newElevenLabsClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("realtime: elevenlabs requires an agent id")
	}
	url := elevenLabsConvaiURL
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}
	return &elevenLabsClient{
		socket:  newSocket(cfg.Logger),
		apiKey:  cfg.APIKey,
		agentID: cfg.AgentID,
		url:     url,
	}, nil
}

func (c *elevenLabsClient) Connect(ctx context.Context, cfg SessionConfig) error {
	header := http.Header{}
	header.Set("xi-api-key", c.apiKey)

	url := fmt.Sprintf("%s?agent_id=%s", c.url, c.agentID)
	if err := c.dial(ctx, url, header); err != nil {
		return fmt.Errorf("elevenlabs convai connect: %w", err)
	}

	init := map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"agent": map[string]any{
				"prompt": map[string]any{"prompt": cfg.Instructions},
			},
		},
	}
	if err := c.sendJSON("conversation_initiation_client_data", init); err != nil {
		c.close()
		return fmt.Errorf("elevenlabs convai handshake: %w", err)
	}

	go c.readPump(c.handleServerMessage)
	return nil
}

func (c *elevenLabsClient) AppendAudio(pcm []byte) error {
	return c.sendJSON("user_audio_chunk", map[string]any{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio is a no-op: the agent's server-side VAD owns turn boundaries.
func (c *elevenLabsClient) CommitAudio() error { return nil }

// CreateResponse is a no-op: the agent replies on its own cadence.
func (c *elevenLabsClient) CreateResponse() error { return nil }

func (c *elevenLabsClient) UpdateInstructions(text string) error {
	return c.sendJSON("contextual_update", map[string]any{
		"type": "contextual_update",
		"text": text,
	})
}

func (c *elevenLabsClient) Close() error {
	return c.close()
}

func (c *elevenLabsClient) Events() <-chan Event {
	return c.events
}

type elevenLabsServerMessage struct {
	Type       string `json:"type"`
	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event"`
	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event"`
}

func (c *elevenLabsClient) handleServerMessage(data []byte) {
	var msg elevenLabsServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("elevenlabs convai: unparseable server message", slog.String("error", err.Error()))
		return
	}

	switch msg.Type {
	case "audio":
		if msg.AudioEvent == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioEvent.AudioBase64)
		if err != nil {
			c.logger.Warn("elevenlabs convai: bad audio event", slog.String("error", err.Error()))
			return
		}
		c.emit(AudioDelta{PCM: pcm})

	case "user_transcript":
		if msg.UserTranscriptionEvent != nil {
			c.emit(Transcript{Text: msg.UserTranscriptionEvent.UserTranscript, Kind: TranscriptInput})
		}

	case "agent_response":
		if msg.AgentResponseEvent != nil {
			c.emit(Transcript{Text: msg.AgentResponseEvent.AgentResponse, Kind: TranscriptOutput})
		}
		c.emit(ResponseDone{Raw: json.RawMessage(data)})

	case "ping":
		if msg.PingEvent != nil {
			if err := c.sendJSON("pong", map[string]any{
				"type":     "pong",
				"event_id": msg.PingEvent.EventID,
			}); err != nil {
				c.logger.Warn("elevenlabs convai: pong failed", slog.String("error", err.Error()))
			}
		}

	case "error":
		c.noteError()
		c.emit(ErrorEvent{Message: string(data), Fatal: true})
	}
}
