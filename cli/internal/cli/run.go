package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	"github.com/malbeclabs/pulse/handoff/pkg/handoff"
	"github.com/malbeclabs/pulse/workflow/pkg/poller"
	"github.com/malbeclabs/pulse/workflow/pkg/runner"
)

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "run", "--query Q (--connection ID | --schema-file FILE)")
	queryFlag := fs.StringP("query", "q", "", "Natural-language question to turn into SQL")
	connectionFlag := fs.StringP("connection", "c", "", "Stored connection whose schema is used")
	schemaFileFlag := fs.String("schema-file", "", "JSON schema document to use instead of a stored connection")
	intervalFlag := fs.Duration("interval", poller.DefaultInterval, "Poll interval")
	maxErrorsFlag := fs.Int("max-errors", 10, "Give up after this many consecutive poll errors (0 = never)")
	noHandoffFlag := fs.Bool("no-handoff", false, "Do not publish the final SQL to the handoff store")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	query := *queryFlag
	if query == "" {
		query = strings.Join(fs.Args(), " ")
	}
	source, err := schemaSource(*connectionFlag, *schemaFileFlag)
	if err != nil {
		return err
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}
	r, err := runner.New(runner.Config{
		Logger:    a.log,
		Workflows: client,
		Schemas:   client,
		UserID:    a.cfg.UserID,
	})
	if err != nil {
		return err
	}

	requestID, err := r.Start(ctx, query, source)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Workflow %s started\n", requestID)

	printer := newStepPrinter(a.out)
	printer.print(r.Steps())

	p, err := poller.New(poller.Config{
		Logger:               a.log,
		Interval:             *intervalFlag,
		Target:               r,
		OnSnapshot:           printer.print,
		OnError:              func(err error) { fmt.Fprintf(a.errOut, "poll failed: %v\n", err) },
		MaxConsecutiveErrors: *maxErrorsFlag,
	})
	if err != nil {
		return err
	}
	if err := p.Run(ctx); err != nil {
		r.Reset()
		return fmt.Errorf("workflow %s: polling stopped: %w", requestID, err)
	}

	sql, ok := r.FinalSQL()
	if !ok {
		if failed := failedSteps(r.Steps()); len(failed) > 0 {
			return fmt.Errorf("workflow %s failed at %s", requestID, strings.Join(failed, ", "))
		}
		return fmt.Errorf("workflow %s finished without SQL", requestID)
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, sql)

	if *noHandoffFlag {
		return nil
	}
	store, closeStore, err := a.handoffStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := handoff.Publish(ctx, store, sql); err != nil {
		return err
	}
	a.log.Info("published final sql to handoff store", "request_id", requestID, "backend", a.cfg.HandoffBackend)
	return nil
}

func schemaSource(connectionID, schemaFile string) (runner.SchemaSource, error) {
	switch {
	case connectionID != "" && schemaFile != "":
		return runner.SchemaSource{}, errors.New("--connection and --schema-file are mutually exclusive")
	case connectionID != "":
		return runner.ConnectionRef(connectionID), nil
	case schemaFile != "":
		b, err := os.ReadFile(schemaFile)
		if err != nil {
			return runner.SchemaSource{}, fmt.Errorf("failed to read schema file: %w", err)
		}
		var schema map[string]any
		if err := json.Unmarshal(b, &schema); err != nil {
			return runner.SchemaSource{}, fmt.Errorf("failed to parse schema file %s: %w", schemaFile, err)
		}
		return runner.InlineSchema(schema), nil
	default:
		return runner.SchemaSource{}, errors.New("one of --connection or --schema-file is required")
	}
}

func failedSteps(steps []runner.StepState) []string {
	var names []string
	for _, s := range steps {
		if s.Status == pulseapi.StepFailed {
			names = append(names, s.Name)
		}
	}
	return names
}

// stepPrinter prints a line for every step whose status changed since the
// previous snapshot.
type stepPrinter struct {
	w    io.Writer
	last map[string]pulseapi.StepStatus
}

func newStepPrinter(w io.Writer) *stepPrinter {
	return &stepPrinter{w: w, last: make(map[string]pulseapi.StepStatus)}
}

func (p *stepPrinter) print(steps []runner.StepState) {
	for _, s := range steps {
		if prev, ok := p.last[s.Name]; ok && prev == s.Status {
			continue
		}
		p.last[s.Name] = s.Status
		fmt.Fprintf(p.w, "  %-10s %s\n", s.Name, colorStatus(string(s.Status)))
	}
}

var (
	colorDone    = color.New(color.FgGreen).SprintFunc()
	colorRunning = color.New(color.FgYellow).SprintFunc()
	colorFailed  = color.New(color.FgRed, color.Bold).SprintFunc()
	colorPending = color.New(color.Faint).SprintFunc()
)

func colorStatus(status string) string {
	switch status {
	case string(pulseapi.WorkflowDone), string(pulseapi.WorkflowCompleted):
		return colorDone(status)
	case string(pulseapi.WorkflowRunning), string(pulseapi.WorkflowRetrying):
		return colorRunning(status)
	case string(pulseapi.WorkflowFailed):
		return colorFailed(status)
	default:
		return colorPending(status)
	}
}
