package core_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"passgate/entity"
	"passgate/impl/core"
	"passgate/impl/entitlement"
	"passgate/impl/minter"
	"passgate/internal/memstore"
)

const testCompound = "compound-1"

// newTestCore wires the engine against in-memory stores, returning the
// stores as well so tests can seed and inspect state directly.
func newTestCore(t *testing.T) (*core.Core, *memstore.Store, *memstore.Compound, minter.Keys) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	compound := memstore.NewCompound()
	keys := minter.NewKeys("test-hash-key", "test-issuer-key")
	mint := minter.New(store, compound, keys, log)
	resolver := entitlement.New(compound, log)
	engine := core.New(store, mint, resolver, compound, compound, nil, log)
	return engine, store, compound, keys
}

func guardUser() *entity.User {
	return &entity.User{
		Id:         "guard-1",
		Name:       "Gate Guard",
		CompoundId: testCompound,
		Role:       entity.RoleGuard,
	}
}

func ownerUser() *entity.User {
	return &entity.User{
		Id:         "owner-1",
		Name:       "Unit Owner",
		CompoundId: testCompound,
		UnitId:     "unit-7",
		Role:       entity.RoleOwner,
	}
}

// seedVisitorToken stores a visitor pass directly and returns the token
// together with the plain code a scanner would present.
func seedVisitorToken(t *testing.T, store *memstore.Store, keys minter.Keys, mutate func(*entity.AccessToken)) (*entity.AccessToken, string) {
	t.Helper()
	code, err := minter.RandomCode()
	if err != nil {
		t.Fatalf("RandomCode: %v", err)
	}
	one := int64(1)
	now := time.Now().UTC()
	token := &entity.AccessToken{
		Id:          "tok-visitor",
		OwnerUserId: "owner-1",
		UnitId:      "unit-7",
		CompoundId:  testCompound,
		Category:    entity.CategoryVisitor,
		CodeHash:    keys.Hash(code),
		ValidFrom:   now.Add(-time.Hour),
		ValidTo:     now.Add(time.Hour),
		MaxUses:     &one,
		SingleUse:   true,
		Active:      true,
		Visitor:     &entity.VisitorProfile{Name: "Jane Visitor", PersonCount: 2},
		CreatedAt:   now,
	}
	if mutate != nil {
		mutate(token)
	}
	if err = store.SaveToken(context.Background(), token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	return token, code
}

func TestSubmitScan_VisitorGrant(t *testing.T) {
	engine, store, _, keys := newTestCore(t)
	_, code := seedVisitorToken(t, store, keys, nil)

	res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code, LocationTag: "gate-main"})
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if res.Outcome != entity.OutcomeGranted {
		t.Fatalf("expected granted, got %s (%s)", res.Outcome, res.DenialReason)
	}
	if res.Profile == nil || res.Profile.Visitor == nil {
		t.Fatal("expected visitor profile on grant")
	}
	if res.Profile.Visitor.Name != "Jane Visitor" {
		t.Errorf("expected visitor name on profile, got %q", res.Profile.Visitor.Name)
	}

	scans := store.Scans()
	if len(scans) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(scans))
	}
	if scans[0].Outcome != entity.OutcomeGranted {
		t.Errorf("ledger outcome = %s", scans[0].Outcome)
	}
	if scans[0].ScannerUserId != "guard-1" {
		t.Errorf("ledger scanner = %q", scans[0].ScannerUserId)
	}
	if scans[0].LocationTag != "gate-main" {
		t.Errorf("ledger location = %q", scans[0].LocationTag)
	}
}

func TestSubmitScan_SingleUseSecondScanDenied(t *testing.T) {
	engine, store, _, keys := newTestCore(t)
	token, code := seedVisitorToken(t, store, keys, nil)

	first, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Outcome != entity.OutcomeGranted {
		t.Fatalf("first scan: expected granted, got %s", first.Outcome)
	}

	second, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.Outcome != entity.OutcomeDenied || second.DenialReason != entity.DenyInactive {
		t.Fatalf("second scan: expected denied/INACTIVE, got %s/%s", second.Outcome, second.DenialReason)
	}

	stored, _ := store.GetToken(context.Background(), token.Id)
	if stored.Active {
		t.Error("single-use token should be inactive after grant")
	}
	if stored.CurrentUses != 1 {
		t.Errorf("current_uses = %d, want 1", stored.CurrentUses)
	}
	if got := len(store.Scans()); got != 2 {
		t.Errorf("expected 2 ledger rows, got %d", got)
	}
}

func TestSubmitScan_ConcurrentSingleUse(t *testing.T) {
	engine, store, _, keys := newTestCore(t)
	token, code := seedVisitorToken(t, store, keys, nil)

	const n = 16
	results := make([]*entity.ScanResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
			if err != nil {
				t.Errorf("scan %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var granted int
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Outcome == entity.OutcomeGranted {
			granted++
		} else if res.DenialReason != entity.DenyInactive {
			t.Errorf("losing scan denied with %s, want INACTIVE", res.DenialReason)
		}
	}
	if granted != 1 {
		t.Fatalf("granted = %d, want exactly 1", granted)
	}

	stored, _ := store.GetToken(context.Background(), token.Id)
	if stored.CurrentUses != 1 {
		t.Errorf("current_uses = %d, want 1", stored.CurrentUses)
	}
	if got := len(store.Scans()); got != n {
		t.Errorf("expected %d ledger rows, got %d", n, got)
	}
}

func TestSubmitScan_DenialReasons(t *testing.T) {
	now := time.Now().UTC()
	two := int64(2)

	cases := []struct {
		name   string
		mutate func(*entity.AccessToken)
		actor  *entity.User
		reason entity.DenialReason
	}{
		{
			name:   "inactive",
			mutate: func(tk *entity.AccessToken) { tk.Active = false },
			reason: entity.DenyInactive,
		},
		{
			name: "not yet valid",
			mutate: func(tk *entity.AccessToken) {
				tk.ValidFrom = now.Add(time.Hour)
				tk.ValidTo = now.Add(2 * time.Hour)
			},
			reason: entity.DenyNotYetValid,
		},
		{
			name: "expired",
			mutate: func(tk *entity.AccessToken) {
				tk.ValidFrom = now.Add(-2 * time.Hour)
				tk.ValidTo = now.Add(-time.Hour)
			},
			reason: entity.DenyExpired,
		},
		{
			name: "usage cap reached",
			mutate: func(tk *entity.AccessToken) {
				tk.MaxUses = &two
				tk.CurrentUses = 2
				tk.SingleUse = false
			},
			reason: entity.DenyMaxUsesExceeded,
		},
		{
			name: "cross compound before state",
			mutate: func(tk *entity.AccessToken) {
				// Expired AND foreign: tenancy must win.
				tk.ValidFrom = now.Add(-2 * time.Hour)
				tk.ValidTo = now.Add(-time.Hour)
			},
			actor: &entity.User{
				Id:         "guard-2",
				CompoundId: "compound-2",
				Role:       entity.RoleGuard,
			},
			reason: entity.DenyCrossCompound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, store, _, keys := newTestCore(t)
			_, code := seedVisitorToken(t, store, keys, tc.mutate)

			actor := tc.actor
			if actor == nil {
				actor = guardUser()
			}
			res, err := engine.SubmitScan(context.Background(), actor, &entity.ScanRequest{Code: code})
			if err != nil {
				t.Fatalf("SubmitScan: %v", err)
			}
			if res.Outcome != entity.OutcomeDenied {
				t.Fatalf("expected denied, got %s", res.Outcome)
			}
			if res.DenialReason != tc.reason {
				t.Errorf("reason = %s, want %s", res.DenialReason, tc.reason)
			}

			scans := store.Scans()
			if len(scans) != 1 {
				t.Fatalf("expected 1 ledger row, got %d", len(scans))
			}
			if scans[0].DenialReason != tc.reason {
				t.Errorf("ledger reason = %s, want %s", scans[0].DenialReason, tc.reason)
			}
		})
	}
}

func TestSubmitScan_UnknownCode(t *testing.T) {
	engine, store, _, _ := newTestCore(t)

	res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: "no-such-code-presented-here"})
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if res.Outcome != entity.OutcomeDenied || res.DenialReason != entity.DenyNotFound {
		t.Fatalf("expected denied/NOT_FOUND, got %s/%s", res.Outcome, res.DenialReason)
	}

	scans := store.Scans()
	if len(scans) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(scans))
	}
	if scans[0].TokenId != "" {
		t.Errorf("ledger row should carry no token id, got %q", scans[0].TokenId)
	}
}

func TestSubmitScan_MultiUseStaysActiveAtCap(t *testing.T) {
	engine, store, _, keys := newTestCore(t)
	two := int64(2)
	token, code := seedVisitorToken(t, store, keys, func(tk *entity.AccessToken) {
		tk.MaxUses = &two
		tk.SingleUse = false
	})

	for i := 0; i < 2; i++ {
		res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if res.Outcome != entity.OutcomeGranted {
			t.Fatalf("scan %d: expected granted, got %s/%s", i, res.Outcome, res.DenialReason)
		}
	}

	res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if res.DenialReason != entity.DenyMaxUsesExceeded {
		t.Fatalf("third scan: reason = %s, want MAX_USES_EXCEEDED", res.DenialReason)
	}

	stored, _ := store.GetToken(context.Background(), token.Id)
	if !stored.Active {
		t.Error("multi-use token at cap should stay active")
	}
	if stored.CurrentUses != 2 {
		t.Errorf("current_uses = %d, want 2", stored.CurrentUses)
	}
}

// seedOwnerSetup provisions a season, a unit assignment and an owner
// gate token, returning the presentable code.
func seedOwnerSetup(t *testing.T, engine *core.Core, compound *memstore.Compound, paid bool) string {
	t.Helper()
	now := time.Now().UTC()
	compound.AddSeason(&entity.Season{
		Id:         "season-2026",
		CompoundId: testCompound,
		Name:       "Summer 2026",
		StartsAt:   now.Add(-24 * time.Hour),
		EndsAt:     now.Add(24 * time.Hour),
		Active:     true,
	})
	compound.AddKeyHolder("unit-7", "owner-1")
	compound.AddPayment(&entity.ServicePayment{
		UnitId:      "unit-7",
		SeasonId:    "season-2026",
		ServiceName: "maintenance",
		Amount:      15000,
		Paid:        paid,
	})

	passes, err := engine.ResolveOwnerTokens(context.Background(), ownerUser())
	if err != nil {
		t.Fatalf("ResolveOwnerTokens: %v", err)
	}
	for _, pass := range passes {
		if pass.Category == entity.CategoryGate {
			return pass.Code
		}
	}
	t.Fatal("no gate pass resolved")
	return ""
}

func TestSubmitScan_OwnerPaymentRequired(t *testing.T) {
	engine, store, compound, _ := newTestCore(t)
	code := seedOwnerSetup(t, engine, compound, false)

	res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if res.DenialReason != entity.DenyPaymentRequired {
		t.Fatalf("reason = %s, want PAYMENT_REQUIRED", res.DenialReason)
	}
	if res.Payment == nil {
		t.Fatal("expected payment detail on PAYMENT_REQUIRED")
	}
	if res.Payment.ServiceName != "maintenance" {
		t.Errorf("payment service = %q, want maintenance", res.Payment.ServiceName)
	}
	if res.Payment.AmountDue != 15000 {
		t.Errorf("amount due = %d, want 15000", res.Payment.AmountDue)
	}

	scans := store.Scans()
	if len(scans) != 1 || scans[0].DenialReason != entity.DenyPaymentRequired {
		t.Errorf("expected a single PAYMENT_REQUIRED ledger row")
	}
}

func TestSubmitScan_PaymentFlipBetweenScans(t *testing.T) {
	engine, store, compound, _ := newTestCore(t)
	store.AddUser(ownerUser())
	code := seedOwnerSetup(t, engine, compound, false)

	res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if res.DenialReason != entity.DenyPaymentRequired {
		t.Fatalf("first scan: reason = %s, want PAYMENT_REQUIRED", res.DenialReason)
	}

	ok, err := compound.MarkServicePaid(context.Background(), "unit-7", "season-2026", "maintenance", "cs_test_1")
	if err != nil || !ok {
		t.Fatalf("MarkServicePaid: ok=%v err=%v", ok, err)
	}

	res, err = engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Outcome != entity.OutcomeGranted {
		t.Fatalf("second scan: expected granted after payment, got %s/%s", res.Outcome, res.DenialReason)
	}
	if res.Profile == nil || res.Profile.HolderName != "Unit Owner" {
		t.Errorf("expected holder name on owner grant profile")
	}
}

func TestSubmitScan_OwnerGrantAfterPaid(t *testing.T) {
	engine, store, compound, _ := newTestCore(t)
	store.AddUser(ownerUser())
	code := seedOwnerSetup(t, engine, compound, true)

	res, err := engine.SubmitScan(context.Background(), guardUser(), &entity.ScanRequest{Code: code})
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if res.Outcome != entity.OutcomeGranted {
		t.Fatalf("expected granted, got %s/%s", res.Outcome, res.DenialReason)
	}
	if res.Profile.Label != "Gate access" {
		t.Errorf("label = %q, want Gate access", res.Profile.Label)
	}
	if res.Profile.HolderUnitId != "unit-7" {
		t.Errorf("holder unit = %q, want unit-7", res.Profile.HolderUnitId)
	}
}
