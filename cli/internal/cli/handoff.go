package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/malbeclabs/pulse/handoff/pkg/handoff"
	"github.com/malbeclabs/pulse/handoff/pkg/server"
)

// ErrNothingToTake is returned by take when no query was handed off.
var ErrNothingToTake = errors.New("no prefilled query")

func cmdTake(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "take", "")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	store, closeStore, err := a.handoffStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sql, ok, err := handoff.Take(ctx, store)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNothingToTake
	}
	fmt.Fprintln(a.out, sql)
	return nil
}

func cmdServeHandoff(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "serve-handoff", "[--listen-addr ADDR]")
	listenAddrFlag := fs.String("listen-addr", "127.0.0.1:8090", "Address to listen on")
	originsFlag := fs.StringSlice("allowed-origin", nil, "Origin allowed to call the server (repeatable, default localhost)")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	store, closeStore, err := a.handoffStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := server.New(server.Config{
		Logger:         a.log,
		Store:          store,
		ListenAddr:     *listenAddrFlag,
		AllowedOrigins: *originsFlag,
		VersionInfo: server.VersionInfo{
			Version: a.build.Version,
			Commit:  a.build.Commit,
			Date:    a.build.Date,
		},
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func cmdMigrateHandoff(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "migrate-handoff", "")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if a.cfg.HandoffBackend != HandoffBackendPostgres {
		return fmt.Errorf("migrate-handoff requires PULSE_HANDOFF_BACKEND=%s", HandoffBackendPostgres)
	}
	return handoff.Migrate(ctx, a.log, a.cfg.Postgres.ConnString())
}
