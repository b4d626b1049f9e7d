package realtime

// Wire frames for the realtime speech-to-speech session. Field names follow
// the provider's documented JSON schema.

// Server event types the bridge reacts to.
const (
	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"
	EventTypeAudioDelta     = "response.audio.delta"
	EventTypeSpeechStarted  = "input_audio_buffer.speech_started"
	EventTypeSpeechStopped  = "input_audio_buffer.speech_stopped"
	EventTypeError          = "error"
)

// ServerEvent is the envelope for events received from the session. Only
// fields the bridge consumes are declared; everything else is ignored.
type ServerEvent struct {
	Type  string    `json:"type"`
	Delta string    `json:"delta,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError is the error payload of an "error" event.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type string `json:"type"`
}

// SessionConfig declares the audio codecs, voice and instructions for a
// session.
type SessionConfig struct {
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Modalities        []string       `json:"modalities,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
}

// SessionUpdate is the "session.update" client message.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// NewSessionUpdate builds a session.update frame for telephony audio:
// G.711 mu-law both ways, server VAD turn detection.
func NewSessionUpdate(voice, instructions string) SessionUpdate {
	return SessionUpdate{
		Type: "session.update",
		Session: SessionConfig{
			TurnDetection:     &TurnDetection{Type: "server_vad"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Voice:             voice,
			Instructions:      instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       0.8,
		},
	}
}

// ContentPart is one content element of a conversation item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ConversationItem is a single conversation turn.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ConversationItemCreate is the "conversation.item.create" client message.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// NewGreetingItem builds a synthetic user turn instructing the model to
// speak the greeting verbatim.
func NewGreetingItem(greeting string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ContentPart{{
				Type: "input_text",
				Text: "Greet the person on the call by saying exactly: " + greeting,
			}},
		},
	}
}

// ResponseCreate is the "response.create" client message requesting a new
// spoken response.
type ResponseCreate struct {
	Type string `json:"type"`
}

// NewResponseCreate builds a response.create frame.
func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// InputAudioAppend is the "input_audio_buffer.append" client message
// carrying a chunk of base64-encoded caller audio.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewInputAudioAppend builds an append frame from an already base64-encoded
// payload.
func NewInputAudioAppend(audioB64 string) InputAudioAppend {
	return InputAudioAppend{Type: "input_audio_buffer.append", Audio: audioB64}
}
