package entitlement_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"passgate/entity"
	"passgate/impl/entitlement"
	"passgate/internal/memstore"
)

func newTestResolver() (*entitlement.Resolver, *memstore.Compound) {
	compound := memstore.NewCompound()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return entitlement.New(compound, log), compound
}

func addSeason(c *memstore.Compound) {
	now := time.Now().UTC()
	c.AddSeason(&entity.Season{
		Id:         "season-2026",
		CompoundId: "compound-1",
		StartsAt:   now.Add(-24 * time.Hour),
		EndsAt:     now.Add(24 * time.Hour),
		Active:     true,
	})
}

func TestServiceName(t *testing.T) {
	cases := []struct {
		category entity.Category
		subtype  string
		want     string
		ok       bool
	}{
		{entity.CategoryGate, "", "maintenance", true},
		{entity.CategoryPool, "", "pool", true},
		{entity.CategoryFacility, entity.FacilityKidsArea, "kids_area", true},
		{entity.CategoryFacility, entity.FacilityBeach, "beach", true},
		{entity.CategoryFacility, "sauna", "", false},
		{entity.CategoryVisitor, "", "", false},
	}
	for _, tc := range cases {
		got, ok := entitlement.ServiceName(tc.category, tc.subtype)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ServiceName(%s, %q) = (%q, %v), want (%q, %v)",
				tc.category, tc.subtype, got, ok, tc.want, tc.ok)
		}
	}
}

func TestResolve_FailClosed(t *testing.T) {
	t.Run("no active season", func(t *testing.T) {
		resolver, _ := newTestResolver()
		ent, err := resolver.Resolve(context.Background(), "compound-1", "unit-7", entity.CategoryGate, "")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if ent.Entitled {
			t.Error("no season must not entitle")
		}
	})

	t.Run("no payment record", func(t *testing.T) {
		resolver, compound := newTestResolver()
		addSeason(compound)
		ent, err := resolver.Resolve(context.Background(), "compound-1", "unit-7", entity.CategoryGate, "")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if ent.Entitled {
			t.Error("missing payment record must not entitle")
		}
		if ent.SeasonId != "season-2026" || ent.ServiceName != "maintenance" {
			t.Errorf("expected season/service on result, got %q/%q", ent.SeasonId, ent.ServiceName)
		}
	})

	t.Run("unmapped facility subtype", func(t *testing.T) {
		resolver, compound := newTestResolver()
		addSeason(compound)
		ent, err := resolver.Resolve(context.Background(), "compound-1", "unit-7", entity.CategoryFacility, "sauna")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if ent.Entitled {
			t.Error("unmapped subtype must not entitle")
		}
	})
}

func TestResolve_PaymentStates(t *testing.T) {
	resolver, compound := newTestResolver()
	addSeason(compound)
	compound.AddPayment(&entity.ServicePayment{
		UnitId:      "unit-7",
		SeasonId:    "season-2026",
		ServiceName: "pool",
		Amount:      8000,
		Paid:        false,
	})

	ent, err := resolver.Resolve(context.Background(), "compound-1", "unit-7", entity.CategoryPool, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ent.Entitled {
		t.Fatal("unpaid service must not entitle")
	}
	if ent.AmountDue != 8000 {
		t.Errorf("amount due = %d, want 8000", ent.AmountDue)
	}

	if _, err = compound.MarkServicePaid(context.Background(), "unit-7", "season-2026", "pool", "cs_1"); err != nil {
		t.Fatalf("MarkServicePaid: %v", err)
	}
	ent, err = resolver.Resolve(context.Background(), "compound-1", "unit-7", entity.CategoryPool, "")
	if err != nil {
		t.Fatalf("Resolve after payment: %v", err)
	}
	if !ent.Entitled {
		t.Fatal("paid service should entitle")
	}
	if ent.AmountDue != 0 {
		t.Errorf("amount due after payment = %d, want 0", ent.AmountDue)
	}
}
