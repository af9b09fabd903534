package reaper_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"passgate/entity"
	"passgate/impl/reaper"
	"passgate/internal/memstore"
)

func newTestReaper(retention time.Duration) (*reaper.Reaper, *memstore.Store, *memstore.Compound) {
	store := memstore.New()
	compound := memstore.NewCompound()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := reaper.New(store, compound, reaper.Config{Interval: time.Hour, LedgerRetention: retention}, log)
	return r, store, compound
}

func saveToken(t *testing.T, store *memstore.Store, token *entity.AccessToken) {
	t.Helper()
	if err := store.SaveToken(context.Background(), token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
}

func TestRunOnce_ExpiresOnlyPastVisitorTokens(t *testing.T) {
	r, store, _ := newTestReaper(0)
	now := time.Now().UTC()

	saveToken(t, store, &entity.AccessToken{
		Id: "expired", Category: entity.CategoryVisitor, Active: true,
		ValidFrom: now.Add(-3 * time.Hour), ValidTo: now.Add(-time.Hour),
	})
	saveToken(t, store, &entity.AccessToken{
		Id: "live", Category: entity.CategoryVisitor, Active: true,
		ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour),
	})
	saveToken(t, store, &entity.AccessToken{
		Id: "owner-expired", Category: entity.CategoryGate, Active: true,
		ValidFrom: now.Add(-3 * time.Hour), ValidTo: now.Add(-time.Hour), SeasonId: "season-2025",
	})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	for id, wantActive := range map[string]bool{
		"expired":       false,
		"live":          true,
		"owner-expired": true, // owner tokens are closed with their season, not by window
	} {
		token, _ := store.GetToken(context.Background(), id)
		if token.Active != wantActive {
			t.Errorf("token %s active = %v, want %v", id, token.Active, wantActive)
		}
	}
}

func TestRunOnce_ClosesEndedSeasons(t *testing.T) {
	r, store, compound := newTestReaper(0)
	now := time.Now().UTC()

	compound.AddSeason(&entity.Season{
		Id: "season-2025", CompoundId: "compound-1", Active: true,
		StartsAt: now.Add(-48 * time.Hour), EndsAt: now.Add(-24 * time.Hour),
	})
	compound.AddSeason(&entity.Season{
		Id: "season-2026", CompoundId: "compound-1", Active: true,
		StartsAt: now.Add(-24 * time.Hour), EndsAt: now.Add(24 * time.Hour),
	})
	saveToken(t, store, &entity.AccessToken{
		Id: "old-gate", Category: entity.CategoryGate, Active: true, SeasonId: "season-2025",
		ValidFrom: now.Add(-48 * time.Hour), ValidTo: now.Add(-24 * time.Hour),
	})
	saveToken(t, store, &entity.AccessToken{
		Id: "new-gate", Category: entity.CategoryGate, Active: true, SeasonId: "season-2026",
		ValidFrom: now.Add(-24 * time.Hour), ValidTo: now.Add(24 * time.Hour),
	})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	old, _ := store.GetToken(context.Background(), "old-gate")
	if old.Active {
		t.Error("token of ended season should be deactivated")
	}
	current, _ := store.GetToken(context.Background(), "new-gate")
	if !current.Active {
		t.Error("token of running season should stay active")
	}

	ended, err := compound.EndedActiveSeasons(context.Background(), now)
	if err != nil {
		t.Fatalf("EndedActiveSeasons: %v", err)
	}
	if len(ended) != 0 {
		t.Errorf("ended season should be closed after the run, %d still open", len(ended))
	}

	// A second run matches nothing and changes nothing.
	if err = r.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	current, _ = store.GetToken(context.Background(), "new-gate")
	if !current.Active {
		t.Error("second run must not touch the running season")
	}
}

func TestRunOnce_LedgerRetention(t *testing.T) {
	r, store, _ := newTestReaper(24 * time.Hour)
	now := time.Now().UTC()

	for id, ts := range map[string]time.Time{
		"old":    now.Add(-48 * time.Hour),
		"recent": now.Add(-time.Hour),
	} {
		if err := store.SaveScan(context.Background(), &entity.ScanAttempt{
			Id: id, CompoundId: "compound-1", Timestamp: ts, Outcome: entity.OutcomeGranted,
		}); err != nil {
			t.Fatalf("SaveScan: %v", err)
		}
	}

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	scans := store.Scans()
	if len(scans) != 1 || scans[0].Id != "recent" {
		t.Fatalf("expected only the recent row to survive, got %d rows", len(scans))
	}
}
