package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/matryer/is"
)

type scriptedComposer struct {
	reply   string
	prompts []string
}

func (c *scriptedComposer) ClassifyYesNo(ctx context.Context, system, user string) (string, error) {
	return "NO", nil
}

func (c *scriptedComposer) Compose(ctx context.Context, prompt, fallback string) string {
	c.prompts = append(c.prompts, prompt)
	if c.reply == "" {
		return fallback
	}
	return c.reply
}

func TestRespondSkipsBlankTranscript(t *testing.T) {
	is := is.New(t)
	composer := &scriptedComposer{reply: "hey"}
	p := New(Config{Composer: composer})

	pcm, text, err := p.Respond(context.Background(), "   ", nil)
	is.NoErr(err)
	is.Equal(pcm, nil)
	is.Equal(text, "")
	is.Equal(len(composer.prompts), 0)
}

func TestRespondSkipsEmptyReply(t *testing.T) {
	is := is.New(t)
	composer := &scriptedComposer{}
	p := New(Config{Composer: composer})

	pcm, text, err := p.Respond(context.Background(), "what time is it", nil)
	is.NoErr(err)
	is.Equal(pcm, nil)
	is.Equal(text, "")
	is.Equal(len(composer.prompts), 1)
}

func TestReplyPromptCarriesPersonaAndTranscript(t *testing.T) {
	is := is.New(t)
	p := New(Config{Persona: "You are clanker conk, a chaotic gremlin."})

	prompt := p.replyPrompt("who pinged me")
	is.True(strings.HasPrefix(prompt, "You are clanker conk"))
	is.True(strings.Contains(prompt, "who pinged me"))
}
