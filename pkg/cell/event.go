package cell

import (
	"time"

	"github.com/odvcencio/sagecell/pkg/protocol"
	"github.com/odvcencio/sagecell/pkg/render"
	"github.com/odvcencio/sagecell/pkg/router"
)

// SessionStartedSubject carries a SessionEvent once the transport opens.
const SessionStartedSubject = "sagecell.session.started"

// Event is published for every fragment that reached a sink.
type Event struct {
	SessionID string    `json:"session_id"`
	KernelID  string    `json:"kernel_id"`
	RequestID string    `json:"request_id"`
	MsgType   string    `json:"msg_type"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent announces a negotiated session.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	KernelID  string    `json:"kernel_id"`
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) newEvent(res router.Result, msg protocol.Message) Event {
	session := c.Session()
	evt := Event{
		SessionID: session.SessionID,
		KernelID:  session.KernelID,
		RequestID: res.RequestID,
		MsgType:   msg.Type(),
		Kind:      res.Kind.String(),
		Outcome:   res.Outcome.String(),
		Timestamp: time.Now(),
	}
	if res.Err != nil {
		evt.Error = res.Err.Error()
	}

	switch m := msg.(type) {
	case *protocol.Stream:
		evt.Text = m.Text
	case *protocol.ExecuteResult:
		evt.Text, _ = m.Plain()
	case *protocol.Error:
		evt.Text = m.Name + ": " + m.Value
	case *protocol.DisplayData:
		if name, ok := m.ImageFilename(); ok {
			evt.URL = session.FileURL(name)
		} else if fragment, ok := m.HTML(); ok {
			evt.HTML = fragment
			if name, ok := render.CellReference(fragment); ok {
				evt.URL = session.FileURL(name)
			}
		} else {
			evt.Text, _ = m.Plain()
		}
	}
	return evt
}
