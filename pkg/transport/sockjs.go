package transport

import (
	"encoding/json"
	"fmt"
)

// FrameType is the first byte of a SockJS server frame.
type FrameType byte

const (
	FrameOpen      FrameType = 'o'
	FrameHeartbeat FrameType = 'h'
	FrameMessages  FrameType = 'a'
	FrameClose     FrameType = 'c'
)

// String returns the metric label for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameOpen:
		return "open"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameMessages:
		return "messages"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one decoded SockJS server frame.
type Frame struct {
	Type        FrameType
	Messages    []string
	CloseCode   int
	CloseReason string
}

// ParseFrame decodes a raw SockJS server frame.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("sockjs: empty frame")
	}
	frame := Frame{Type: FrameType(data[0])}
	body := data[1:]

	switch frame.Type {
	case FrameOpen, FrameHeartbeat:
		return frame, nil
	case FrameMessages:
		if err := json.Unmarshal(body, &frame.Messages); err != nil {
			return Frame{}, fmt.Errorf("sockjs: decode message frame: %w", err)
		}
		return frame, nil
	case FrameClose:
		var parts []json.RawMessage
		if err := json.Unmarshal(body, &parts); err != nil {
			return Frame{}, fmt.Errorf("sockjs: decode close frame: %w", err)
		}
		if len(parts) > 0 {
			_ = json.Unmarshal(parts[0], &frame.CloseCode)
		}
		if len(parts) > 1 {
			_ = json.Unmarshal(parts[1], &frame.CloseReason)
		}
		return frame, nil
	default:
		return Frame{}, fmt.Errorf("sockjs: unknown frame type %q", data[0])
	}
}

// EncodeMessages builds the client frame carrying msgs.
func EncodeMessages(msgs ...string) ([]byte, error) {
	if msgs == nil {
		msgs = []string{}
	}
	return json.Marshal(msgs)
}
