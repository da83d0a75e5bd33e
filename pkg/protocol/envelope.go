// Package protocol implements the SageMathCell kernel message format: the
// JSON envelope shared by both directions, the tagged union inbound
// envelopes decode into, and the "<kernel>/channels," frame codec.
package protocol

import (
	"encoding/json"
	"time"
)

// Message types exchanged with the kernel.
const (
	TypeExecuteRequest = "execute_request"
	TypeExecuteReply   = "execute_reply"
	TypeExecuteResult  = "execute_result"
	TypeStream         = "stream"
	TypeDisplayData    = "display_data"
	TypeError          = "error"
	TypeStatus         = "status"
)

// MIME keys found in display_data / execute_result data bundles.
const (
	MIMETextPlain     = "text/plain"
	MIMETextHTML      = "text/html"
	MIMEImageFilename = "text/image-filename"
)

// FilesExpression asks the server to report files the cell created.
const FilesExpression = "sys._sage_.new_files()"

// FilesExpressionKey is the user_expressions key the server answers under.
const FilesExpressionKey = "_sagecell_files"

// Header identifies a message. Username is sent even when empty.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Date     string `json:"date,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ParentHeader is the reply-correlation header. It marshals to {} when empty.
type ParentHeader struct {
	MsgID    string `json:"msg_id,omitempty"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	MsgType  string `json:"msg_type,omitempty"`
}

// Envelope is one protocol message.
type Envelope struct {
	Header       Header          `json:"header"`
	ParentHeader ParentHeader    `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	MsgType      string          `json:"msg_type,omitempty"`
	Channel      string          `json:"channel,omitempty"`
}

// ExecuteRequest is the content of an execute_request envelope.
type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
}

// NewExecuteRequest builds the outbound envelope for one code submission.
func NewExecuteRequest(msgID, sessionID, code string) (Envelope, error) {
	content, err := json.Marshal(ExecuteRequest{
		Code:            code,
		Silent:          false,
		UserExpressions: map[string]string{FilesExpressionKey: FilesExpression},
		AllowStdin:      false,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Header: Header{
			MsgID:    msgID,
			Username: "",
			Session:  sessionID,
			MsgType:  TypeExecuteRequest,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
		},
		ParentHeader: ParentHeader{},
		Metadata:     map[string]any{},
		Content:      content,
	}, nil
}

// Type returns the envelope's message type. header.msg_type is authoritative;
// the top-level msg_type is only consulted when the header omits it.
func (e Envelope) Type() string {
	if e.Header.MsgType != "" {
		return e.Header.MsgType
	}
	return e.MsgType
}
