package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/sagecell/pkg/cell"
	"github.com/odvcencio/sagecell/pkg/markdown"
	"github.com/odvcencio/sagecell/pkg/terminal"
)

const defaultRenderWait = 2 * time.Minute

func (a *app) runRenderCommand(args []string) error {
	fs, configPath := a.flagSet("render")
	out := fs.String("o", "-", "output HTML file (- for stdout)")
	wait := fs.Duration("wait", defaultRenderWait, "how long to wait for every block to finish")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError(errors.New("render requires exactly one note file"))
	}
	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return usageError(fmt.Errorf("read note: %w", err))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := a.newSession(cfg, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	spinner := terminal.NewSpinnerWithOutput(a.stderr, "Connecting to "+cfg.ServerURL)
	spinner.Start()
	// A failed start is reported once by the notifier; each block then
	// records the same error on the document.
	_ = sess.client.Start(ctx)
	spinner.SetMessage("Running sage blocks in " + fs.Arg(0))
	doc, waitErr, err := renderNote(ctx, sess.client, source, *wait)
	spinner.Stop()
	if err != nil {
		return err
	}

	page, err := doc.HTML()
	if err != nil {
		return err
	}
	if err := a.writeOutput(*out, page); err != nil {
		return err
	}

	if errs := doc.Errors(); len(errs) > 0 {
		return errs[0]
	}
	if waitErr != nil {
		return withExitCode(fmt.Errorf("blocks still running after %s: %w", *wait, waitErr), exitRuntime)
	}
	return nil
}

// renderNote runs every block of source and waits up to wait for their
// replies. waitErr reports a wait that did not finish; the document then
// holds whatever output arrived in time.
func renderNote(ctx context.Context, client *cell.Client, source []byte, wait time.Duration) (doc *markdown.Document, waitErr error, err error) {
	var (
		mu       sync.Mutex
		requests []*cell.Request
	)
	proc := markdown.NewProcessor()
	client.Register(proc, func(req *cell.Request) {
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
	})

	doc, err = proc.Render(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	g, gctx := errgroup.WithContext(waitCtx)
	mu.Lock()
	for _, req := range requests {
		g.Go(func() error {
			_, err := req.Wait(gctx)
			return err
		})
	}
	mu.Unlock()
	return doc, g.Wait(), nil
}

func (a *app) writeOutput(path, page string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(a.stdout, page)
		return err
	}
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
