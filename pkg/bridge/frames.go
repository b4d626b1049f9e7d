package bridge

// Telephony media-stream frames. Field names follow the provider's
// documented schema for start/media/stop control frames (camelCase JSON).

// Stream event types received from the telephony edge.
const (
	streamEventConnected  = "connected"
	streamEventStart      = "start"
	streamEventMedia      = "media"
	streamEventStop       = "stop"
	streamEventDisconnect = "disconnect"
	streamEventMark       = "mark"
)

// StreamMessage is the envelope for frames on the telephony socket.
type StreamMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     *StreamMedia `json:"media,omitempty"`
	Start     *StreamStart `json:"start,omitempty"`
	Stop      *StreamStop  `json:"stop,omitempty"`
}

// StreamMedia carries one chunk of base64-encoded call audio.
type StreamMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StreamStart is the payload of the "start" control frame. The edge assigns
// the stream identifier here; every outbound media frame must carry it.
type StreamStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// StreamStop is the payload of the "stop" control frame.
type StreamStop struct {
	CallSid string `json:"callSid,omitempty"`
}

// OutboundMedia is a media frame sent back to the telephony edge. Without
// the current streamSid the provider silently discards the audio.
type OutboundMedia struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     OutboundPayload `json:"media"`
}

// OutboundPayload wraps the base64 audio of an outbound media frame.
type OutboundPayload struct {
	Payload string `json:"payload"`
}

// NewOutboundMedia builds a media frame tagged with the given stream id.
func NewOutboundMedia(streamSid, payloadB64 string) OutboundMedia {
	return OutboundMedia{
		Event:     streamEventMedia,
		StreamSid: streamSid,
		Media:     OutboundPayload{Payload: payloadB64},
	}
}
