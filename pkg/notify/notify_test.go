package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"
)

type captureSender struct {
	messages []string
	err      error
}

func (s *captureSender) SendMessage(ctx context.Context, channelID, content string) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, content)
	return nil
}

type echoComposer struct {
	reply string
}

func (c echoComposer) ClassifyYesNo(ctx context.Context, system, user string) (string, error) {
	return "NO", nil
}

func (c echoComposer) Compose(ctx context.Context, prompt, fallback string) string {
	if c.reply == "" {
		return fallback
	}
	return c.reply
}

func TestComposedDeliversPhrasedText(t *testing.T) {
	is := is.New(t)
	sender := &captureSender{}
	n := NewComposed(echoComposer{reply: "heading out, the room went quiet"}, sender, nil)

	n.Notify(context.Background(), "chan-1", "voice_session_ended", "inactivity", "", "bye")
	is.Equal(sender.messages, []string{"heading out, the room went quiet"})
}

func TestComposedFallsBack(t *testing.T) {
	is := is.New(t)
	sender := &captureSender{}
	n := NewComposed(echoComposer{}, sender, nil)

	n.Notify(context.Background(), "chan-1", "joined", "requested", "", "on my way")
	is.Equal(sender.messages, []string{"on my way"})
}

func TestComposedSwallowsDeliveryFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("channel gone")}
	n := NewComposed(echoComposer{}, sender, nil)

	// Must not panic or surface the error.
	n.Notify(context.Background(), "chan-1", "joined", "requested", "", "on my way")
}

func TestComposedSkipsWithoutChannel(t *testing.T) {
	is := is.New(t)
	sender := &captureSender{}
	n := NewComposed(echoComposer{}, sender, nil)

	n.Notify(context.Background(), "", "joined", "requested", "", "on my way")
	is.Equal(len(sender.messages), 0)
}
