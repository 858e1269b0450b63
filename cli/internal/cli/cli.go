// Package cli implements the pulse command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	"github.com/malbeclabs/pulse/handoff/pkg/handoff"
	"github.com/malbeclabs/pulse/utils/pkg/logger"
	"github.com/malbeclabs/pulse/utils/pkg/metrics"
	flag "github.com/spf13/pflag"
)

// BuildInfo is set by LDFLAGS in main.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"run":             {"Start a workflow and poll it until it finishes", cmdRun},
	"status":          {"Show the status of a workflow", cmdStatus},
	"steps":           {"Show the steps of a workflow", cmdSteps},
	"history":         {"List past workflows", cmdHistory},
	"instances":       {"List stored connections, or test one / show its schema", cmdInstances},
	"take":            {"Print and clear the prefilled query", cmdTake},
	"query":           {"Run SQL against a stored connection", cmdQuery},
	"serve-handoff":   {"Serve the handoff store over HTTP", cmdServeHandoff},
	"migrate-handoff": {"Apply the Postgres handoff store migrations", cmdMigrateHandoff},
	"version":         {"Print version information", cmdVersion},
}

// app carries what commands share.
type app struct {
	log    *slog.Logger
	cfg    Config
	build  BuildInfo
	out    io.Writer
	errOut io.Writer

	api *pulseapi.Client
}

// Run parses args and executes the selected command.
func Run(ctx context.Context, args []string, build BuildInfo, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("pulse", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	verboseFlag := fs.BoolP("verbose", "v", false, "Enable verbose (debug) logging")
	envFileFlag := fs.String("env-file", ".env", "Load environment variables from this file if it exists")
	apiURLFlag := fs.String("api-url", "", "Pulse API base URL (or set PULSE_API_URL env var)")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return errors.New("no command given")
	}
	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	if name == "help" {
		printUsage(stdout, fs)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}

	if err := LoadDotEnv(*envFileFlag); err != nil {
		return err
	}
	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		return err
	}
	if fs.Changed("api-url") {
		cfg.APIURL = *apiURLFlag
	}

	log := logger.NewWithWriter(stderr, *verboseFlag)
	metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.Date).Set(1)

	flush, sentryEnabled := initSentry(cfg, build, log)
	defer flush()

	a := &app{log: log, cfg: cfg, build: build, out: stdout, errOut: stderr}
	err = cmd.run(ctx, a, cmdArgs)
	if err != nil && sentryEnabled && !errors.Is(err, context.Canceled) {
		sentry.CaptureException(err)
	}
	return err
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: pulse [global flags] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fmt.Fprint(w, fs.FlagUsages())
}

func initSentry(cfg Config, build BuildInfo, log *slog.Logger) (func(), bool) {
	if cfg.SentryDSN == "" {
		return func() {}, false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Release:          "pulse@" + build.Version,
		Environment:      cfg.SentryEnvironment,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	})
	if err != nil {
		log.Warn("failed to initialize sentry", "error", err)
		return func() {}, false
	}
	return func() { sentry.Flush(2 * time.Second) }, true
}

func newFlagSet(a *app, name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	fs.Usage = func() {
		fmt.Fprintf(a.errOut, "Usage: pulse %s %s\n", name, usage)
		fmt.Fprint(a.errOut, fs.FlagUsages())
	}
	return fs
}

// parseFlags parses args and reports whether the command should continue.
func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *app) apiClient() (*pulseapi.Client, error) {
	if a.api != nil {
		return a.api, nil
	}
	c, err := pulseapi.New(pulseapi.Config{
		BaseURL: a.cfg.APIURL,
		Logger:  a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	a.log.Debug("api client initialized", "base_url", c.BaseURL())
	a.api = c
	return c, nil
}

// handoffStore opens the configured store. The returned func releases it.
func (a *app) handoffStore(ctx context.Context) (handoff.Store, func(), error) {
	switch a.cfg.HandoffBackend {
	case HandoffBackendPostgres:
		pool, err := handoff.NewPostgresPool(ctx, a.log, a.cfg.Postgres.ConnString())
		if err != nil {
			return nil, nil, err
		}
		return handoff.NewPostgresStore(pool), pool.Close, nil
	default:
		store, err := handoff.NewFileStore(a.cfg.HandoffDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func cmdVersion(_ context.Context, a *app, _ []string) error {
	fmt.Fprintf(a.out, "pulse %s (commit %s, built %s)\n", a.build.Version, a.build.Commit, a.build.Date)
	return nil
}
