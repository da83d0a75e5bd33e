// Command sagecell runs code on a SageMathCell server from the terminal and
// renders notes whose sage blocks execute remotely.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/odvcencio/sagecell/pkg/bus"
	"github.com/odvcencio/sagecell/pkg/cell"
	"github.com/odvcencio/sagecell/pkg/config"
	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
	"github.com/odvcencio/sagecell/pkg/logging"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// app carries the process streams so commands can be driven from tests.
type app struct {
	stdout io.Writer
	stderr io.Writer
}

func main() {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(a.dispatch(os.Args[1:]))
}

func (a *app) dispatch(args []string) int {
	if len(args) == 0 {
		a.printHelp()
		return exitUsage
	}
	switch args[0] {
	case "--version", "-v", "version":
		a.printVersion()
		return exitOK
	case "--help", "-h", "help":
		a.printHelp()
		return exitOK
	case "run":
		return a.runCommand(a.runRunCommand, args[1:])
	case "render":
		return a.runCommand(a.runRenderCommand, args[1:])
	case "serve":
		return a.runCommand(a.runServeCommand, args[1:])
	default:
		fmt.Fprintf(a.stderr, "Error: unknown command %q\n\n", args[0])
		a.printHelp()
		return exitUsage
	}
}

func (a *app) runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(a.stderr, "Error: %s\n", sageerrors.UserMessage(err))
		return exitCodeForError(err)
	}
	return exitOK
}

func (a *app) printHelp() {
	w := a.stdout
	fmt.Fprintln(w, "sagecell - run code on a remote SageMathCell kernel")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  sagecell <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  run [-e code | file]                Execute code and stream its output")
	fmt.Fprintln(w, "  render -o out.html [-wait d] note   Execute every sage block and write HTML")
	fmt.Fprintln(w, "  serve [-addr host:port] note        Live preview of a note")
	fmt.Fprintln(w, "  version                             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts -config <path> to load a specific config file.")
}

func (a *app) printVersion() {
	fmt.Fprintf(a.stdout, "sagecell %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(a.stdout, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(a.stdout, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(a.stdout, "  Go version: %s\n", runtime.Version())
}

func (a *app) flagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "", "path to a config file (default: ~/.sagecell and ./.sagecell)")
	return fs, configPath
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError(err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// session is a started client plus what it needs released on exit.
type session struct {
	client *cell.Client
	logger *logging.Logger
	bus    bus.MessageBus
}

func (s *session) Close() {
	_ = s.client.Close()
	if s.bus != nil {
		_ = s.bus.Close()
	}
	_ = s.logger.Close()
}

// newSession builds the logger, optional event bus and client for cfg. The
// client is not started.
func (a *app) newSession(cfg *config.Config, withBus bool) (*session, error) {
	logger, err := logging.NewLogger(cfg.Logging.Dir, "")
	if err != nil {
		fmt.Fprintf(a.stderr, "Warning: file logging disabled: %v\n", err)
		logger = nil
	}
	if level, ok := logging.ParseLevel(cfg.Logging.Level); ok {
		logger.SetMinLevel(level)
	}

	s := &session{logger: logger}
	opts := []cell.Option{
		cell.WithLogger(logger),
		cell.WithNotifier(cell.TerminalNotifier(a.stderr)),
	}
	if withBus {
		busCfg := bus.DefaultConfig()
		busCfg.URL = cfg.Events.NATSURL
		b, err := bus.New(busCfg)
		if err != nil {
			_ = logger.Close()
			return nil, sageerrors.Connect(err, "connect event bus").
				WithContext("nats_url", cfg.Events.NATSURL)
		}
		s.bus = b
		opts = append(opts, cell.WithBus(b))
	}
	s.client = cell.New(cfg, opts...)
	return s, nil
}
