package realtime

import "encoding/json"

// Event is a tagged variant delivered on a Client's event stream.
type Event interface {
	eventType() string
}

// AudioDelta carries one chunk of reply PCM at the session output rate.
type AudioDelta struct {
	PCM []byte
}

// TranscriptKind distinguishes whose speech a transcript describes.
type TranscriptKind string

const (
	TranscriptInput  TranscriptKind = "input"
	TranscriptOutput TranscriptKind = "output"
)

// Transcript carries text recognized from input audio or spoken in a reply.
type Transcript struct {
	Text string
	Kind TranscriptKind
}

// ErrorEvent is a vendor-reported error. Fatal errors end the session.
type ErrorEvent struct {
	Message string
	Code    string
	Param   string
	Fatal   bool
}

// SocketClosed reports the websocket closing, expectedly or not.
type SocketClosed struct {
	Code   int
	Reason string
}

// ResponseDone fires exactly once per response, with the raw vendor payload
// kept for diagnostics.
type ResponseDone struct {
	Raw json.RawMessage
}

func (AudioDelta) eventType() string   { return "audio_delta" }
func (Transcript) eventType() string   { return "transcript" }
func (ErrorEvent) eventType() string   { return "error_event" }
func (SocketClosed) eventType() string { return "socket_closed" }
func (ResponseDone) eventType() string { return "response_done" }
