package realtime

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/matryer/is"
)

func newTestElevenLabs(t *testing.T) *elevenLabsClient {
	t.Helper()
	c, err := newElevenLabsClient(Config{APIKey: "test", AgentID: "agent_1"})
	if err != nil {
		t.Fatal(err)
	}
	return c.(*elevenLabsClient)
}

func TestElevenLabsAudioEvent(t *testing.T) {
	is := is.New(t)
	c := newTestElevenLabs(t)

	pcm := []byte{5, 5, 5, 5}
	msg := fmt.Sprintf(`{"type":"audio","audio_event":{"audio_base_64":%q,"event_id":1}}`,
		base64.StdEncoding.EncodeToString(pcm))
	c.handleServerMessage([]byte(msg))

	delta, ok := drainOne(t, c).(AudioDelta)
	is.True(ok)
	is.Equal(delta.PCM, pcm)
}

func TestElevenLabsAgentResponseMarksDone(t *testing.T) {
	is := is.New(t)
	c := newTestElevenLabs(t)

	c.handleServerMessage([]byte(`{"type":"agent_response","agent_response_event":{"agent_response":"sure thing"}}`))

	tr, ok := drainOne(t, c).(Transcript)
	is.True(ok)
	is.Equal(tr.Kind, TranscriptOutput)

	_, ok = drainOne(t, c).(ResponseDone)
	is.True(ok)
}

func TestElevenLabsUserTranscript(t *testing.T) {
	is := is.New(t)
	c := newTestElevenLabs(t)

	c.handleServerMessage([]byte(`{"type":"user_transcript","user_transcription_event":{"user_transcript":"yo"}}`))
	tr, ok := drainOne(t, c).(Transcript)
	is.True(ok)
	is.Equal(tr.Kind, TranscriptInput)
	is.Equal(tr.Text, "yo")
}

func TestElevenLabsTurnSignalsAreNoops(t *testing.T) {
	is := is.New(t)
	c := newTestElevenLabs(t)
	is.NoErr(c.CommitAudio())
	is.NoErr(c.CreateResponse())
}
