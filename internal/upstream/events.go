package upstream

import "encoding/json"

type FrameType string

const (
	FrameSessionStart  FrameType = "session_start"
	FrameSessionUpdate FrameType = "session_update"
	FrameMessage       FrameType = "message"
	FrameEscalation    FrameType = "escalation"
)

// Event is emitted by the Client. It is one of Connected, Disconnected or Frame.
type Event interface {
	event()
}

// Connected is emitted after every successful dial.
type Connected struct {
	URL string
}

// Disconnected is emitted when the connection closes or a dial fails.
type Disconnected struct {
	Code   int
	Reason string
}

// Frame is one parsed JSON object received from the gateway. Type is empty
// when the object carries no "type" field.
type Frame struct {
	Type    FrameType
	Payload map[string]interface{}
	Raw     json.RawMessage
}

func (Connected) event()    {}
func (Disconnected) event() {}
func (Frame) event()        {}

// Handler receives events in the order the connection produced them.
type Handler interface {
	HandleEvent(ev Event)
}

type HandlerFunc func(ev Event)

func (f HandlerFunc) HandleEvent(ev Event) {
	f(ev)
}

// StaffReply is the frame sent upstream for a staff answer.
type StaffReply struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Channel   string `json:"channel"`
}

// parseFrame decodes data as a JSON object.
func parseFrame(data []byte) (Frame, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Frame{}, err
	}
	if payload == nil {
		return Frame{}, errNotObject
	}
	frame := Frame{
		Payload: payload,
		Raw:     json.RawMessage(data),
	}
	if t, ok := payload["type"].(string); ok {
		frame.Type = FrameType(t)
	}
	return frame, nil
}
