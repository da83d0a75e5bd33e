package ipc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/sagecell/pkg/bus"
)

// BusBridge forwards cell events from the MessageBus to the Hub so preview
// clients see output as it streams.
type BusBridge struct {
	bus      bus.MessageBus
	hub      *Hub
	subjects map[string]string
	subs     []bus.Subscription
	mu       sync.Mutex
}

// NewBusBridge bridges cellSubject.* as cell events and sessionSubject as
// session events.
func NewBusBridge(b bus.MessageBus, h *Hub, cellSubject, sessionSubject string) *BusBridge {
	subjects := map[string]string{}
	if s := strings.TrimSuffix(strings.TrimSpace(cellSubject), "."); s != "" {
		subjects[s+".*"] = EventCell
	}
	if s := strings.TrimSpace(sessionSubject); s != "" {
		subjects[s] = EventSession
	}
	return &BusBridge{bus: b, hub: h, subjects: subjects}
}

// Start subscribes to the bridged subjects.
func (br *BusBridge) Start(ctx context.Context) error {
	for subject, eventType := range br.subjects {
		sub, err := br.bus.Subscribe(ctx, subject, br.forwardToHub(eventType))
		if err != nil {
			br.Stop()
			return err
		}
		br.mu.Lock()
		br.subs = append(br.subs, sub)
		br.mu.Unlock()
	}
	return nil
}

// Stop unsubscribes from all MessageBus subjects.
func (br *BusBridge) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	for _, sub := range br.subs {
		_ = sub.Unsubscribe()
	}
	br.subs = nil
}

func (br *BusBridge) forwardToHub(eventType string) bus.MessageHandler {
	return func(msg *bus.Message) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			payload = map[string]any{
				"raw":     string(msg.Data),
				"subject": msg.Subject,
			}
		}
		requestID, _ := payload["request_id"].(string)

		br.hub.Broadcast(Event{
			Type:      eventType,
			RequestID: requestID,
			Payload:   payload,
			Timestamp: time.Now(),
		})
	}
}
