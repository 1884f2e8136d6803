// Package pipeline is the non-realtime reply path: Whisper transcription,
// a chat completion for the reply text, and TTS synthesis back to PCM. It
// trades latency for working with any chat-capable model, and serves as the
// fallback when no realtime backend is configured.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/audio/wav"
	"github.com/Volpestyle/clanker-conk-sub003/pkg/llm"
)

// Whisper transcribes WAV clips through the OpenAI audio API.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisper(client *openai.Client) *Whisper {
	return &Whisper{client: client, model: openai.Whisper1, language: "en"}
}

func (w *Whisper) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(wavData),
		FilePath: "turn.wav",
	})
	if err != nil {
		return "", fmt.Errorf("transcribing turn: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Config wires a Pipeline.
type Config struct {
	Client   *openai.Client
	Composer llm.Client
	Voice    string // TTS voice id, defaults to alloy
	Persona  string // prepended to every reply prompt
	// InputSampleRate is the rate of PCM clips handed to Respond; mono.
	InputSampleRate int
	Logger          *slog.Logger
}

// Pipeline implements the session responder: transcribe when the gate has
// not already, compose, synthesize.
type Pipeline struct {
	whisper  *Whisper
	client   *openai.Client
	composer llm.Client
	voice    string
	persona  string
	inRate   int
	logger   *slog.Logger
}

func New(cfg Config) *Pipeline {
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}
	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = 24000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		whisper:  NewWhisper(cfg.Client),
		client:   cfg.Client,
		composer: cfg.Composer,
		voice:    voice,
		persona:  cfg.Persona,
		inRate:   rate,
		logger:   logger,
	}
}

// Respond produces reply PCM (24kHz mono) and the reply text for one turn.
// An empty transcript and an unintelligible clip both yield a silent no-op
// rather than an error.
func (p *Pipeline) Respond(ctx context.Context, transcript string, pcm []byte) ([]byte, string, error) {
	if transcript == "" {
		data, err := wav.Encode(pcm, p.inRate, 1)
		if err != nil {
			return nil, "", fmt.Errorf("framing turn: %w", err)
		}
		transcript, err = p.whisper.Transcribe(ctx, data)
		if err != nil {
			return nil, "", err
		}
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, "", nil
	}

	reply := p.composer.Compose(ctx, p.replyPrompt(transcript), "")
	if strings.TrimSpace(reply) == "" {
		return nil, "", nil
	}

	speech, err := p.synthesize(ctx, reply)
	if err != nil {
		return nil, "", err
	}
	return speech, reply, nil
}

func (p *Pipeline) replyPrompt(transcript string) string {
	var b strings.Builder
	if p.persona != "" {
		b.WriteString(p.persona)
		b.WriteString("\n\n")
	}
	b.WriteString("You are in a live voice chat. Reply to the following utterance in one or two short spoken sentences, no markup:\n")
	b.WriteString(transcript)
	return b.String()
}

func (p *Pipeline) synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1HD,
		Input:          text,
		Voice:          openai.SpeechVoice(p.voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizing reply: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("reading synthesized audio: %w", err)
	}
	return data, nil
}

// Ready probes the API with a cheap list call, used at startup to fail fast
// on bad credentials.
func (p *Pipeline) Ready(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("pipeline readiness probe: %w", err)
	}
	return nil
}
