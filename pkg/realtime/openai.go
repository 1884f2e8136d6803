package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

const (
	openaiRealtimeURL = "wss://api.openai.com/v1/realtime"
	grokRealtimeURL   = "wss://api.x.ai/v1/realtime"

	defaultOpenAIModel = "gpt-realtime"
	defaultGrokModel   = "grok-4-realtime"
)

func init() {
	Register(ModeOpenAI, func(cfg Config) (Client, error) {
		return newOpenAIClient(cfg, openaiRealtimeURL, defaultOpenAIModel, true)
	})
	// Grok speaks the OpenAI realtime wire on its own endpoint.
	Register(ModeGrok, func(cfg Config) (Client, error) {
		return newOpenAIClient(cfg, grokRealtimeURL, defaultGrokModel, false)
	})
}

// openaiClient drives the OpenAI realtime websocket protocol: session.update
// on connect, input_audio_buffer append/commit, explicit response.create,
// base64 PCM16 audio deltas, and an explicit response.done per response.
type openaiClient struct {
	*socket
	apiKey     string
	model      string
	url        string
	betaHeader bool

	mu        sync.Mutex
	connected bool
}

func newOpenAIClient(cfg Config, url, defaultModel string, betaHeader bool) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}
	return &openaiClient{
		socket:     newSocket(cfg.Logger),
		apiKey:     cfg.APIKey,
		model:      model,
		url:        url,
		betaHeader: betaHeader,
	}, nil
}

func (c *openaiClient) Connect(ctx context.Context, cfg SessionConfig) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	if c.betaHeader {
		header.Set("OpenAI-Beta", "realtime=v1")
	}

	url := fmt.Sprintf("%s?model=%s", c.url, c.model)
	if err := c.dial(ctx, url, header); err != nil {
		return fmt.Errorf("openai realtime connect: %w", err)
	}

	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"instructions":        cfg.Instructions,
		"voice":               cfg.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		// Turn boundaries are owned by the capture layer, not server VAD.
		"turn_detection": nil,
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
	}
	if err := c.sendJSON("session.update", map[string]any{
		"type":    "session.update",
		"session": session,
	}); err != nil {
		c.close()
		return fmt.Errorf("openai realtime handshake: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	go c.readPump(c.handleServerEvent)
	return nil
}

func (c *openaiClient) AppendAudio(pcm []byte) error {
	return c.sendJSON("input_audio_buffer.append", map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (c *openaiClient) CommitAudio() error {
	return c.sendJSON("input_audio_buffer.commit", map[string]any{
		"type": "input_audio_buffer.commit",
	})
}

func (c *openaiClient) CreateResponse() error {
	return c.sendJSON("response.create", map[string]any{
		"type": "response.create",
	})
}

func (c *openaiClient) UpdateInstructions(text string) error {
	return c.sendJSON("session.update", map[string]any{
		"type":    "session.update",
		"session": map[string]any{"instructions": text},
	})
}

func (c *openaiClient) Close() error {
	return c.close()
}

func (c *openaiClient) Events() <-chan Event {
	return c.events
}

// serverEvent is the envelope shared by all OpenAI realtime server events.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Response   struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Param   string `json:"param"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *openaiClient) handleServerEvent(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("openai realtime: unparseable server event", slog.String("error", err.Error()))
		return
	}

	switch ev.Type {
	case "response.audio.delta", "response.output_audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.logger.Warn("openai realtime: bad audio delta", slog.String("error", err.Error()))
			return
		}
		c.emit(AudioDelta{PCM: pcm})

	case "response.created":
		c.setActiveResponse(ev.Response.ID, "in_progress")

	case "response.done":
		c.setActiveResponse("", "")
		c.emit(ResponseDone{Raw: json.RawMessage(data)})

	case "conversation.item.input_audio_transcription.completed":
		c.emit(Transcript{Text: ev.Transcript, Kind: TranscriptInput})

	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		c.emit(Transcript{Text: ev.Transcript, Kind: TranscriptOutput})

	case "error":
		c.noteError()
		c.emit(ErrorEvent{
			Message: ev.Error.Message,
			Code:    ev.Error.Code,
			Param:   ev.Error.Param,
			Fatal:   ev.Error.Type != "invalid_request_error",
		})
	}
}
