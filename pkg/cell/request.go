package cell

import (
	"context"
	"sync"

	"github.com/odvcencio/sagecell/pkg/protocol"
)

// Request is one in-flight execution.
type Request struct {
	ID string

	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	reply *protocol.ExecuteReply
}

func newRequest(id string) *Request {
	return &Request{ID: id, done: make(chan struct{})}
}

// Done is closed when the kernel replies or the client orphans the request.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Reply returns the execute_reply, or nil if the request was orphaned.
func (r *Request) Reply() *protocol.ExecuteReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reply
}

// Wait blocks until Done or ctx expires.
func (r *Request) Wait(ctx context.Context) (*protocol.ExecuteReply, error) {
	select {
	case <-r.done:
		return r.Reply(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Request) complete(reply *protocol.ExecuteReply) {
	r.once.Do(func() {
		r.mu.Lock()
		r.reply = reply
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Request) orphan() {
	r.complete(nil)
}
