package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"passgate/entity"
	"passgate/lib/sl"
)

// Billing reads season and payment state from the compound management
// database. Implemented by internal/compound/database.
type Billing interface {
	ActiveSeason(ctx context.Context, compoundId string) (*entity.Season, error)
	ServicePayment(ctx context.Context, unitId, seasonId, serviceName string) (*entity.ServicePayment, error)
}

// serviceFor maps an access category to the service that must be paid
// for the current season before the category is granted.
var serviceFor = map[string]string{
	string(entity.CategoryGate):                                     "maintenance",
	string(entity.CategoryPool):                                     "pool",
	string(entity.CategoryFacility) + "/" + entity.FacilityKidsArea: entity.FacilityKidsArea,
	string(entity.CategoryFacility) + "/" + entity.FacilityBeach:    entity.FacilityBeach,
}

// ServiceName resolves the required service for a category/subtype pair.
func ServiceName(category entity.Category, subtype string) (string, bool) {
	key := string(category)
	if category == entity.CategoryFacility {
		key += "/" + subtype
	}
	name, ok := serviceFor[key]
	return name, ok
}

type Resolver struct {
	billing Billing
	log     *slog.Logger
}

func New(billing Billing, log *slog.Logger) *Resolver {
	return &Resolver{
		billing: billing,
		log:     log.With(sl.Module("entitlement")),
	}
}

// Resolve computes the live payment-based entitlement for a unit and
// category. It is fail-closed: no active season, no mapped service or
// no paid payment record all mean "not entitled", never an implicit
// grant. The result is recomputed on every call — payment state can
// change between mint and scan, so nothing here is cached on the token.
func (r *Resolver) Resolve(ctx context.Context, compoundId, unitId string, category entity.Category, subtype string) (*entity.Entitlement, error) {
	serviceName, ok := ServiceName(category, subtype)
	if !ok {
		return &entity.Entitlement{Entitled: false}, nil
	}

	season, err := r.billing.ActiveSeason(ctx, compoundId)
	if err != nil {
		return nil, fmt.Errorf("active season: %w", err)
	}
	if season == nil {
		r.log.With(slog.String("compound_id", compoundId)).Debug("no active season")
		return &entity.Entitlement{Entitled: false, ServiceName: serviceName}, nil
	}

	payment, err := r.billing.ServicePayment(ctx, unitId, season.Id, serviceName)
	if err != nil {
		return nil, fmt.Errorf("service payment: %w", err)
	}

	ent := &entity.Entitlement{
		SeasonId:    season.Id,
		ServiceName: serviceName,
	}
	if payment == nil {
		return ent, nil
	}
	ent.Entitled = payment.Paid
	if !payment.Paid {
		ent.AmountDue = payment.Amount
	}
	return ent, nil
}
