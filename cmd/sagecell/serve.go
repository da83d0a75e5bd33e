package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/odvcencio/sagecell/pkg/cell"
	"github.com/odvcencio/sagecell/pkg/config"
	"github.com/odvcencio/sagecell/pkg/ipc"
	"github.com/odvcencio/sagecell/pkg/markdown"
)

func (a *app) runServeCommand(args []string) error {
	fs, configPath := a.flagSet("serve")
	addr := fs.String("addr", "", "address to bind the preview server (default: serve.addr)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError(errors.New("serve requires exactly one note file"))
	}
	source, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return usageError(err)
	}
	if _, err := os.Stat(source); err != nil {
		return usageError(fmt.Errorf("read note: %w", err))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Serve.Addr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := a.newSession(cfg, true)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.client.Start(ctx); err != nil {
		return err
	}

	server := ipc.NewServer(serverConfig(cfg, source), newNoteRenderer(sess.client, source),
		ipc.WithBus(sess.bus),
		ipc.WithLogger(sess.logger),
	)
	fmt.Fprintf(a.stderr, "Serving %s on http://%s\n", fs.Arg(0), cfg.Serve.Addr)
	return server.Start(ctx)
}

func serverConfig(cfg *config.Config, source string) ipc.Config {
	return ipc.Config{
		Addr:           cfg.Serve.Addr,
		RenderRate:     cfg.Serve.RenderRate,
		Source:         source,
		CellSubject:    cfg.Events.Subject,
		SessionSubject: cell.SessionStartedSubject,
	}
}

// newNoteRenderer re-reads source on every call. Requests from the previous
// render are released so their late output cannot land in a discarded tree.
func newNoteRenderer(client *cell.Client, source string) ipc.Renderer {
	var (
		mu       sync.Mutex
		previous []*cell.Request
	)
	return func(ctx context.Context) (*markdown.Document, error) {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		for _, req := range previous {
			client.Release(req.ID)
		}
		previous = nil
		mu.Unlock()

		proc := markdown.NewProcessor()
		client.Register(proc, func(req *cell.Request) {
			mu.Lock()
			previous = append(previous, req)
			mu.Unlock()
		})
		return proc.Render(ctx, data)
	}
}
