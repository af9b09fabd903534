package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"passgate/entity"
	"passgate/lib/sl"
)

// Database is the token/ledger surface the reaper sweeps.
type Database interface {
	DeactivateExpiredVisitorTokens(ctx context.Context, now time.Time) (int64, error)
	DeactivateSeasonTokens(ctx context.Context, seasonId string) (int64, error)
	PurgeScansBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Billing exposes season lifecycle state in the compound database.
type Billing interface {
	EndedActiveSeasons(ctx context.Context, now time.Time) ([]*entity.Season, error)
	CloseSeason(ctx context.Context, seasonId string) error
}

type Config struct {
	// Interval between runs. Defaults to one hour.
	Interval time.Duration
	// LedgerRetention is how long scan rows are kept. 0 disables the purge.
	LedgerRetention time.Duration
}

// Reaper applies the periodic bulk lifecycle transitions: visitor-pass
// expiry, season close-out and ledger retention. Every pass is
// idempotent — a run that matches nothing logs nothing and errors
// nothing — and may race freely with in-flight scans, whose conditional
// grant updates simply fail against a freshly deactivated token.
type Reaper struct {
	db      Database
	billing Billing
	conf    Config
	log     *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(db Database, billing Billing, conf Config, log *slog.Logger) *Reaper {
	if conf.Interval <= 0 {
		conf.Interval = time.Hour
	}
	return &Reaper{
		db:      db,
		billing: billing,
		conf:    conf,
		log:     log.With(sl.Module("reaper")),
		done:    make(chan struct{}),
	}
}

// Start runs an immediate sweep, then repeats on the configured
// interval until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
	r.log.With(
		slog.Duration("interval", r.conf.Interval),
		slog.Duration("ledger_retention", r.conf.LedgerRetention),
	).Info("reaper started")
}

func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)

	r.runLogged(ctx)

	ticker := time.NewTicker(r.conf.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Reaper) runLogged(ctx context.Context) {
	if err := r.RunOnce(ctx); err != nil {
		r.log.Error("reaper run", sl.Err(err))
	}
}

// RunOnce performs one sweep. Exposed so an external scheduler can
// drive the policies directly.
func (r *Reaper) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()

	expired, err := r.db.DeactivateExpiredVisitorTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("expire visitor tokens: %w", err)
	}
	if expired > 0 {
		r.log.With(slog.Int64("count", expired)).Info("expired visitor passes deactivated")
	}

	if r.billing != nil {
		seasons, err := r.billing.EndedActiveSeasons(ctx, now)
		if err != nil {
			return fmt.Errorf("ended seasons: %w", err)
		}
		for _, season := range seasons {
			closed, err := r.db.DeactivateSeasonTokens(ctx, season.Id)
			if err != nil {
				return fmt.Errorf("deactivate season %s tokens: %w", season.Id, err)
			}
			if err = r.billing.CloseSeason(ctx, season.Id); err != nil {
				return fmt.Errorf("close season %s: %w", season.Id, err)
			}
			r.log.With(
				slog.String("season_id", season.Id),
				slog.Int64("tokens", closed),
			).Info("season closed")
		}
	}

	if r.conf.LedgerRetention > 0 {
		purged, err := r.db.PurgeScansBefore(ctx, now.Add(-r.conf.LedgerRetention))
		if err != nil {
			return fmt.Errorf("purge ledger: %w", err)
		}
		if purged > 0 {
			r.log.With(slog.Int64("count", purged)).Info("ledger rows purged")
		}
	}

	return nil
}
