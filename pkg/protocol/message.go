package protocol

import (
	"encoding/json"
	"fmt"
	"sort"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

// Message is the decoded form of an inbound envelope. The concrete type is
// one of *Stream, *DisplayData, *ExecuteResult, *Error, *ExecuteReply,
// *Status or *Unknown.
type Message interface {
	// ParentID is the msg_id of the request this message answers.
	ParentID() string
	// Type is the wire msg_type.
	Type() string
	isMessage()
}

type meta struct {
	parentID string
	msgType  string
}

func (m meta) ParentID() string { return m.parentID }
func (m meta) Type() string     { return m.msgType }
func (meta) isMessage()         {}

// Stream is a chunk of stdout/stderr text.
type Stream struct {
	meta
	Name string `json:"name"`
	Text string `json:"text"`
}

// Bundle is a MIME-keyed data bundle.
type Bundle map[string]any

// String returns the string stored under mime, if any.
func (b Bundle) String(mime string) (string, bool) {
	v, ok := b[mime]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []any:
		// Jupyter allows multi-line strings split into arrays.
		var out string
		for _, part := range s {
			str, ok := part.(string)
			if !ok {
				return "", false
			}
			out += str
		}
		return out, true
	default:
		return "", false
	}
}

// Keys returns the bundle's MIME types in sorted order.
func (b Bundle) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DisplayData carries rich output such as image filenames or html.
type DisplayData struct {
	meta
	Data     Bundle         `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// ImageFilename returns the text/image-filename entry.
func (d *DisplayData) ImageFilename() (string, bool) {
	name, ok := d.Data.String(MIMEImageFilename)
	return name, ok && name != ""
}

// HTML returns the text/html entry.
func (d *DisplayData) HTML() (string, bool) {
	html, ok := d.Data.String(MIMETextHTML)
	return html, ok && html != ""
}

// Plain returns the text/plain entry.
func (d *DisplayData) Plain() (string, bool) {
	text, ok := d.Data.String(MIMETextPlain)
	return text, ok && text != ""
}

// ExecuteResult is the display-hook value of the last expression.
type ExecuteResult struct {
	meta
	ExecutionCount int    `json:"execution_count"`
	Data           Bundle `json:"data"`
}

// Plain returns the text/plain entry.
func (r *ExecuteResult) Plain() (string, bool) {
	text, ok := r.Data.String(MIMETextPlain)
	return text, ok && text != ""
}

// Error is an exception raised by the kernel.
type Error struct {
	meta
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ExecuteReply ends a request on the shell channel.
type ExecuteReply struct {
	meta
	Status          string         `json:"status"`
	ExecutionCount  int            `json:"execution_count"`
	UserExpressions map[string]any `json:"user_expressions"`
	Name            string         `json:"ename,omitempty"`
	Value           string         `json:"evalue,omitempty"`
}

// OK reports whether the execution succeeded.
func (r *ExecuteReply) OK() bool { return r.Status == "ok" }

// Status reports kernel busy/idle transitions.
type Status struct {
	meta
	ExecutionState string `json:"execution_state"`
}

// Unknown is any message type this client does not interpret.
type Unknown struct {
	meta
	Content json.RawMessage
}

// Decode parses one JSON envelope into its Message variant.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, sageerrors.Wrap(err, sageerrors.ErrCodeMalformedEnvelope, "decode envelope")
	}
	return FromEnvelope(env)
}

// FromEnvelope converts an already-parsed envelope into its Message variant.
func FromEnvelope(env Envelope) (Message, error) {
	m := meta{parentID: env.ParentHeader.MsgID, msgType: env.Type()}

	var msg Message
	switch m.msgType {
	case TypeStream:
		msg = &Stream{meta: m}
	case TypeDisplayData:
		msg = &DisplayData{meta: m}
	case TypeExecuteResult:
		msg = &ExecuteResult{meta: m}
	case TypeError:
		msg = &Error{meta: m}
	case TypeExecuteReply:
		msg = &ExecuteReply{meta: m}
	case TypeStatus:
		msg = &Status{meta: m}
	default:
		return &Unknown{meta: m, Content: env.Content}, nil
	}

	if len(env.Content) == 0 || string(env.Content) == "null" {
		return msg, nil
	}
	if err := json.Unmarshal(env.Content, msg); err != nil {
		return nil, sageerrors.Wrap(err, sageerrors.ErrCodeMalformedEnvelope,
			fmt.Sprintf("decode %s content", m.msgType)).
			WithContext("parent_id", m.parentID)
	}
	return msg, nil
}
