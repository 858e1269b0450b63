// Package poller repeatedly polls a workflow run on a fixed interval until the
// run reports that polling is finished.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/pulse/workflow/pkg/runner"
)

const DefaultInterval = time.Second

// ErrTooManyErrors is returned by Run when the consecutive error limit is hit.
var ErrTooManyErrors = errors.New("too many consecutive poll errors")

// Target is the run being polled. *runner.Runner implements it.
type Target interface {
	Poll(ctx context.Context) ([]runner.StepState, error)
	PollingActive() bool
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Interval time.Duration
	Target   Target

	// OnSnapshot is called with the steps of every successful poll.
	OnSnapshot func([]runner.StepState)
	// OnError is called with every recoverable poll error.
	OnError func(error)

	// MaxConsecutiveErrors stops Run after this many failed polls in a row.
	// Zero means unlimited.
	MaxConsecutiveErrors int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Target == nil {
		return errors.New("target is required")
	}
	if cfg.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConsecutiveErrors < 0 {
		return errors.New("max consecutive errors must not be negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Poller struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{log: cfg.Logger, cfg: cfg}, nil
}

// Step performs a single poll and reports whether polling is finished.
func (p *Poller) Step(ctx context.Context) (bool, error) {
	steps, err := p.cfg.Target.Poll(ctx)
	if err != nil {
		return false, err
	}
	if p.cfg.OnSnapshot != nil {
		p.cfg.OnSnapshot(steps)
	}
	return !p.cfg.Target.PollingActive(), nil
}

// Run polls immediately and then once per interval until the target stops
// polling, ctx is done, or a non-recoverable error occurs. A poll is only
// issued after the previous one returned; ticks that arrive meanwhile are
// coalesced.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Debug("poller: starting", "interval", p.cfg.Interval)

	consecutive := 0
	for {
		done, err := p.Step(ctx)
		switch {
		case err == nil:
			consecutive = 0
		case fatal(err):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			consecutive++
			p.log.Warn("poller: poll failed", "error", err, "consecutive", consecutive)
			if p.cfg.OnError != nil {
				p.cfg.OnError(err)
			}
			if p.cfg.MaxConsecutiveErrors > 0 && consecutive >= p.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %w", ErrTooManyErrors, err)
			}
		}
		if done {
			p.log.Debug("poller: run finished")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// fatal reports errors after which further polls cannot succeed.
func fatal(err error) bool {
	return errors.Is(err, runner.ErrNotStarted) ||
		errors.Is(err, runner.ErrRunReset) ||
		errors.Is(err, runner.ErrInFlight)
}
