package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/malbeclabs/pulse/workflow/pkg/history"
	"github.com/malbeclabs/pulse/workflow/pkg/runner"
)

func cmdStatus(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "status", "REQUEST_ID")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("status takes exactly one request id")
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}
	status, err := client.GetStatus(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s", fs.Arg(0), colorStatus(string(status.Status)))
	if status.Current != "" {
		fmt.Fprintf(a.out, " (current: %s)", status.Current)
	}
	fmt.Fprintln(a.out)
	return nil
}

func cmdSteps(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "steps", "REQUEST_ID")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("steps takes exactly one request id")
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}
	out, err := client.GetSteps(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	steps := runner.StepsFromWire(out)

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tSTARTED\tDURATION")
	for _, s := range steps {
		started, duration := "-", "-"
		if s.StartedAt != nil {
			started = s.StartedAt.Local().Format(time.TimeOnly)
			if s.FinishedAt != nil {
				duration = s.FinishedAt.Sub(*s.StartedAt).Round(time.Millisecond).String()
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Status, started, duration)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if sql, ok := runner.ExtractFinalSQL(steps); ok {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, sql)
	}
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "history", "[--refresh] [--limit N]")
	refreshFlag := fs.Bool("refresh", false, "Fetch the live status of unfinished workflows")
	limitFlag := fs.Int("limit", 20, "Show at most this many workflows (0 = all)")
	concurrencyFlag := fs.Int("concurrency", history.DefaultConcurrency, "Concurrent status refreshes")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	client, err := a.apiClient()
	if err != nil {
		return err
	}
	lister, err := history.NewLister(history.Config{Logger: a.log, Client: client})
	if err != nil {
		return err
	}
	entries, err := lister.List(ctx, history.Options{
		RefreshStatus: *refreshFlag,
		Concurrency:   *concurrencyFlag,
	})
	if err != nil {
		return err
	}
	if *limitFlag > 0 && len(entries) > *limitFlag {
		entries = entries[:*limitFlag]
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No workflows yet")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST ID\tSTATUS\tCREATED\tQUERY")
	for _, e := range entries {
		status := string(e.Status)
		if e.Current != "" {
			status += " (" + e.Current + ")"
		}
		if e.RefreshErr != nil {
			status += " ?"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.RequestID, status, relativeTime(now, e.CreatedAt), truncate(e.Query, 60))
	}
	return tw.Flush()
}

// relativeTime renders t relative to now, e.g. "5m ago".
func relativeTime(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return t.Local().Format(time.DateTime)
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return t.Local().Format(time.DateOnly)
	}
}
