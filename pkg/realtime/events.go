package realtime

// Event type discriminators for both directions of the realtime protocol.
// Client-to-upstream events configure the session and drive the input audio
// buffer; upstream-to-client events deliver synthesized audio, transcript
// fragments, and response lifecycle notifications.
const (
	// Client events.
	TypeSessionUpdate  = "session.update"
	TypeAppendAudio    = "input_audio_buffer.append"
	TypeCommitAudio    = "input_audio_buffer.commit"
	TypeCreateResponse = "response.create"

	// Upstream events.
	TypeSessionCreated    = "session.created"
	TypeSessionUpdated    = "session.updated"
	TypeAudioDelta        = "response.audio.delta"
	TypeTranscriptDelta   = "response.audio_transcript.delta"
	TypeTranscriptDone    = "response.audio_transcript.done"
	TypeResponseCreated   = "response.created"
	TypeResponseDone      = "response.done"
	TypeResponseCompleted = "response.completed"
	TypeError             = "error"

	// User-speech transcription completion. Two spellings exist in the wild;
	// both are handled.
	TypeInputTranscriptCompleted      = "conversation.item.input_audio_transcription.completed"
	TypeInputTranscriptCompletedShort = "input_audio_transcription.completed"
)

// sessionUpdateEvent configures voice, instructions, and audio formats.
type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`

	InputAudioFormat  string `json:"input_audio_format,omitempty"`
	OutputAudioFormat string `json:"output_audio_format,omitempty"`

	// TurnDetection is always nil: segmentation runs locally, so upstream
	// voice-activity detection is explicitly disabled by sending null.
	TurnDetection *struct{} `json:"turn_detection"`
}

// appendAudioEvent carries one base64-encoded PCM16 frame.
type appendAudioEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// commitEvent ends the current turn, releasing the input buffer upstream.
type commitEvent struct {
	Type string `json:"type"`
}

// responseCreateEvent requests a model response for the committed input.
type responseCreateEvent struct {
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
}

// ServerEvent is the decoded form of an upstream event. The wire frames are
// loosely shaped JSON discriminated by Type; unused fields stay at their zero
// values. Unknown event types are dropped by the dispatch switch, which keeps
// the client forward compatible with protocol additions.
type ServerEvent struct {
	Type string `json:"type"`

	// Delta carries an audio or transcript fragment, depending on Type.
	// Audio fragments are base64-encoded PCM16.
	Delta string `json:"delta,omitempty"`

	// Transcript carries the completed user-speech transcription.
	Transcript string `json:"transcript,omitempty"`

	// Error is set for error events.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the nested error object of an upstream error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
