// Package filewatch turns fsnotify events into file changes delivered to
// glob subscribers, and remembers the last few.
package filewatch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
)

// ChangeType describes the kind of file change observed.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

const defaultHistory = 16

// Change is one observed change.
type Change struct {
	Path string
	Type ChangeType
	At   time.Time
}

// Handler receives changes. It runs on the watch goroutine.
type Handler func(Change)

type subscriber struct {
	pattern string
	handler Handler
}

// Watcher fans changes out to subscribers.
type Watcher struct {
	mu      sync.RWMutex
	subs    map[string]subscriber
	history []Change
	keep    int
	onError func(error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithHistory keeps the last n changes. n <= 0 keeps the default.
func WithHistory(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.keep = n
		}
	}
}

// WithErrorHandler receives fsnotify errors, which are otherwise dropped.
func WithErrorHandler(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// New returns an idle watcher; call Watch to start feeding it.
func New(opts ...Option) *Watcher {
	w := &Watcher{subs: make(map[string]subscriber), keep: defaultHistory}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscribe calls handler for changes whose path, or base name when pattern
// has no separator, matches the glob. It returns the subscription id.
func (w *Watcher) Subscribe(pattern string, handler Handler) string {
	if handler == nil {
		return ""
	}
	id := ulid.Make().String()
	w.mu.Lock()
	w.subs[id] = subscriber{pattern: filepath.ToSlash(strings.TrimSpace(pattern)), handler: handler}
	w.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

// Notify records change and delivers it to matching subscribers.
func (w *Watcher) Notify(change Change) {
	if change.At.IsZero() {
		change.At = time.Now()
	}

	w.mu.Lock()
	w.history = append(w.history, change)
	if over := len(w.history) - w.keep; over > 0 {
		w.history = append(w.history[:0], w.history[over:]...)
	}
	var matched []Handler
	for _, sub := range w.subs {
		if match(sub.pattern, change.Path) {
			matched = append(matched, sub.handler)
		}
	}
	w.mu.Unlock()

	for _, h := range matched {
		h(change)
	}
}

// Last returns the most recent change, if any.
func (w *Watcher) Last() (Change, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.history) == 0 {
		return Change{}, false
	}
	return w.history[len(w.history)-1], true
}

// History returns remembered changes, oldest first.
func (w *Watcher) History() []Change {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Change(nil), w.history...)
}

// Watch feeds fsnotify events for dirs into Notify until ctx is done. Watch
// a file's directory rather than the file: editors that save by rename
// replace the inode.
func (w *Watcher) Watch(ctx context.Context, dirs ...string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if t, ok := changeType(ev.Op); ok {
				w.Notify(Change{Path: ev.Name, Type: t})
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func changeType(op fsnotify.Op) (ChangeType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return ChangeCreated, true
	case op.Has(fsnotify.Write):
		return ChangeModified, true
	case op.Has(fsnotify.Remove):
		return ChangeDeleted, true
	case op.Has(fsnotify.Rename):
		return ChangeRenamed, true
	}
	return "", false
}

func match(pattern, file string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	file = filepath.ToSlash(file)
	if ok, _ := filepath.Match(pattern, file); ok {
		return true
	}
	if strings.Contains(pattern, "/") {
		return false
	}
	ok, _ := filepath.Match(pattern, filepath.Base(file))
	return ok
}
