package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
)

const (
	geminiLiveURL      = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultGeminiModel = "models/gemini-2.0-flash-live-001"
)

func init() {
	Register(ModeGemini, newGeminiClient)
}

// geminiClient drives the Gemini Live BidiGenerateContent websocket: a setup
// message on connect, realtimeInput audio chunks, and activity signaling for
// turn boundaries. Gemini replies on its own once a turn ends, so
// CreateResponse is a no-op.
type geminiClient struct {
	*socket
	apiKey string
	model  string
	url    string

	inputRate int
}

func newGeminiClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	url := geminiLiveURL
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}
	return &geminiClient{
		socket: newSocket(cfg.Logger),
		apiKey: cfg.APIKey,
		model:  model,
		url:    url,
	}, nil
}

func (c *geminiClient) Connect(ctx context.Context, cfg SessionConfig) error {
	c.inputRate = cfg.InputSampleRate
	if err := c.dial(ctx, fmt.Sprintf("%s?key=%s", c.url, c.apiKey), nil); err != nil {
		return fmt.Errorf("gemini live connect: %w", err)
	}

	setup := map[string]any{
		"setup": map[string]any{
			"model": c.model,
			"generationConfig": map[string]any{
				"responseModalities": []string{"AUDIO"},
				"speechConfig": map[string]any{
					"voiceConfig": map[string]any{
						"prebuiltVoiceConfig": map[string]any{"voiceName": cfg.Voice},
					},
				},
			},
			"systemInstruction": map[string]any{
				"parts": []map[string]any{{"text": cfg.Instructions}},
			},
			"realtimeInputConfig": map[string]any{
				// The capture layer owns turn boundaries.
				"automaticActivityDetection": map[string]any{"disabled": true},
			},
			"outputAudioTranscription": map[string]any{},
		},
	}
	if err := c.sendJSON("setup", setup); err != nil {
		c.close()
		return fmt.Errorf("gemini live setup: %w", err)
	}

	go c.readPump(c.handleServerMessage)
	return nil
}

func (c *geminiClient) AppendAudio(pcm []byte) error {
	return c.sendJSON("realtimeInput.audio", map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"data":     base64.StdEncoding.EncodeToString(pcm),
				"mimeType": fmt.Sprintf("audio/pcm;rate=%d", c.inputRate),
			},
		},
	})
}

// CommitAudio ends the activity window, which triggers Gemini's reply.
func (c *geminiClient) CommitAudio() error {
	return c.sendJSON("realtimeInput.activityEnd", map[string]any{
		"realtimeInput": map[string]any{"activityEnd": map[string]any{}},
	})
}

// CreateResponse is a no-op: Gemini auto-replies on activityEnd.
func (c *geminiClient) CreateResponse() error { return nil }

// UpdateInstructions injects replacement context as a turn rather than
// reconnecting; the Live API has no setup mutation.
func (c *geminiClient) UpdateInstructions(text string) error {
	return c.sendJSON("clientContent", map[string]any{
		"clientContent": map[string]any{
			"turns": []map[string]any{{
				"role":  "user",
				"parts": []map[string]any{{"text": text}},
			}},
			"turnComplete": false,
		},
	})
}

func (c *geminiClient) Close() error {
	return c.close()
}

func (c *geminiClient) Events() <-chan Event {
	return c.events
}

type geminiServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete"`
	ServerContent *struct {
		TurnComplete bool `json:"turnComplete"`
		Interrupted  bool `json:"interrupted"`
		ModelTurn    *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
		InputTranscription *struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
	} `json:"serverContent"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *geminiClient) handleServerMessage(data []byte) {
	var msg geminiServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("gemini live: unparseable server message", slog.String("error", err.Error()))
		return
	}

	if msg.Error != nil {
		c.noteError()
		c.emit(ErrorEvent{
			Message: msg.Error.Message,
			Code:    fmt.Sprintf("%d", msg.Error.Code),
			Param:   msg.Error.Status,
			Fatal:   true,
		})
		return
	}

	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				c.logger.Warn("gemini live: bad inline audio", slog.String("error", err.Error()))
				continue
			}
			c.emit(AudioDelta{PCM: pcm})
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.emit(Transcript{Text: sc.InputTranscription.Text, Kind: TranscriptInput})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emit(Transcript{Text: sc.OutputTranscription.Text, Kind: TranscriptOutput})
	}
	if sc.TurnComplete {
		c.emit(ResponseDone{Raw: json.RawMessage(data)})
	}
}
