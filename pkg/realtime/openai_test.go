package realtime

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/matryer/is"
)

func newTestOpenAI(t *testing.T) *openaiClient {
	t.Helper()
	c, err := newOpenAIClient(Config{APIKey: "test"}, openaiRealtimeURL, defaultOpenAIModel, true)
	if err != nil {
		t.Fatal(err)
	}
	return c.(*openaiClient)
}

func drainOne(t *testing.T, c Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	default:
		t.Fatal("expected an event")
		return nil
	}
}

func TestOpenAIAudioDelta(t *testing.T) {
	is := is.New(t)
	c := newTestOpenAI(t)

	pcm := []byte{1, 2, 3, 4}
	msg := fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`,
		base64.StdEncoding.EncodeToString(pcm))
	c.handleServerEvent([]byte(msg))

	ev := drainOne(t, c)
	delta, ok := ev.(AudioDelta)
	is.True(ok)
	is.Equal(delta.PCM, pcm)
}

func TestOpenAIResponseDoneOnce(t *testing.T) {
	is := is.New(t)
	c := newTestOpenAI(t)

	c.handleServerEvent([]byte(`{"type":"response.done","response":{"id":"resp_1","status":"completed"}}`))
	_, ok := drainOne(t, c).(ResponseDone)
	is.True(ok)

	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected extra event %T", ev)
	default:
	}
}

func TestOpenAIInputTranscript(t *testing.T) {
	is := is.New(t)
	c := newTestOpenAI(t)

	c.handleServerEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hey clanker"}`))
	tr, ok := drainOne(t, c).(Transcript)
	is.True(ok)
	is.Equal(tr.Text, "hey clanker")
	is.Equal(tr.Kind, TranscriptInput)
}

func TestOpenAIErrorClassification(t *testing.T) {
	is := is.New(t)
	c := newTestOpenAI(t)

	c.handleServerEvent([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"buffer too small","code":"input_audio_buffer_commit_empty"}}`))
	ev, ok := drainOne(t, c).(ErrorEvent)
	is.True(ok)
	is.True(!ev.Fatal)
	is.Equal(ev.Code, "input_audio_buffer_commit_empty")

	c.handleServerEvent([]byte(`{"type":"error","error":{"type":"server_error","message":"boom"}}`))
	ev, ok = drainOne(t, c).(ErrorEvent)
	is.True(ok)
	is.True(ev.Fatal)
}

func TestOpenAIIgnoresGarbage(t *testing.T) {
	c := newTestOpenAI(t)
	c.handleServerEvent([]byte(`not json at all`))
	c.handleServerEvent([]byte(`{"type":"response.audio.delta","delta":"%%%not-base64"}`))
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

func TestOpenAITracksActiveResponse(t *testing.T) {
	is := is.New(t)
	c := newTestOpenAI(t)

	c.handleServerEvent([]byte(`{"type":"response.created","response":{"id":"resp_9","status":"in_progress"}}`))
	c.stateMu.Lock()
	is.Equal(c.activeRespID, "resp_9")
	c.stateMu.Unlock()

	c.handleServerEvent([]byte(`{"type":"response.done","response":{"id":"resp_9","status":"completed"}}`))
	c.stateMu.Lock()
	is.Equal(c.activeRespID, "")
	c.stateMu.Unlock()
}
