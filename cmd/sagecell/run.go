package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/render"
	"github.com/odvcencio/sagecell/pkg/terminal"
	"github.com/odvcencio/sagecell/pkg/transport"
)

func (a *app) runRunCommand(args []string) error {
	fs, configPath := a.flagSet("run")
	expr := fs.String("e", "", "code to execute")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	code, err := readCode(*expr, fs.Args())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	spinner := terminal.NewSpinnerWithOutput(a.stderr, "Connecting to "+cfg.ServerURL)
	spinner.Start()
	sess, err := a.newSession(cfg, false)
	if err != nil {
		spinner.Stop()
		return err
	}
	defer sess.Close()
	err = sess.client.Start(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	sink := render.NewTerminalSink(a.stdout, sess.client.SinkOptions(nil))
	req, err := sess.client.Execute(ctx, code, sink)
	if err != nil {
		return err
	}
	reply, err := req.Wait(ctx)
	sink.Finish()
	if err != nil {
		sess.client.Release(req.ID)
		return err
	}
	if reply == nil {
		return sageerrors.Transport(transport.ErrClosed, "connection closed before the kernel replied")
	}
	if !reply.OK() {
		return withExitCode(fmt.Errorf("execution failed: %s", strings.TrimSpace(reply.Name+" "+reply.Value)), exitRuntime)
	}
	return nil
}

// readCode takes code from -e, a file argument, or stdin when the argument is "-".
func readCode(expr string, args []string) (string, error) {
	switch {
	case expr != "" && len(args) > 0:
		return "", usageError(errors.New("use either -e or a file, not both"))
	case expr != "":
		return expr, nil
	case len(args) == 0:
		return "", usageError(errors.New("run requires -e <code> or a file"))
	case len(args) > 1:
		return "", usageError(errors.New("run takes a single file"))
	}

	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", withExitCode(fmt.Errorf("read code: %w", err), exitUsage)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", usageError(errors.New("no code to execute"))
	}
	return string(data), nil
}
