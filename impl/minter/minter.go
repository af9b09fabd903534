package minter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"passgate/entity"
	"passgate/lib/sl"

	"github.com/google/uuid"
)

var (
	ErrInvalidWindow = errors.New("valid_to must be after valid_from")
	ErrScopeConflict = errors.New("requester holds no key for this scope")
)

// Database is the token persistence the minter depends on.
// Implemented by internal/database and internal/memstore.
type Database interface {
	SaveToken(ctx context.Context, token *entity.AccessToken) error
	FindOwnerToken(ctx context.Context, userId string, category entity.Category, subtype, seasonId string) (*entity.AccessToken, error)
}

// Units answers unit-assignment questions from the compound management
// database. Implemented by internal/compound/database.
type Units interface {
	IsUnitKeyHolder(ctx context.Context, userId, unitId string) (bool, error)
}

type Minter struct {
	db    Database
	units Units
	keys  Keys
	log   *slog.Logger
}

func New(db Database, units Units, keys Keys, log *slog.Logger) *Minter {
	return &Minter{
		db:    db,
		units: units,
		keys:  keys,
		log:   log.With(sl.Module("minter")),
	}
}

// MintVisitorToken issues a fresh single-use visitor pass for a unit.
// The actor must hold a key for the unit: its owner, or compound staff.
// The returned code is shown exactly once; only its hash is stored.
func (m *Minter) MintVisitorToken(ctx context.Context, actor *entity.User, req *entity.VisitorPassRequest) (*entity.AccessToken, string, error) {
	if !req.ValidTo.After(req.ValidFrom) {
		return nil, "", ErrInvalidWindow
	}
	if err := m.requireUnitKey(ctx, actor, req.UnitId); err != nil {
		return nil, "", err
	}

	code, err := RandomCode()
	if err != nil {
		return nil, "", err
	}

	visitor := req.Visitor
	if cc := visitor.CountryCode(); cc != "" {
		visitor.Country = cc
	}

	token := &entity.AccessToken{
		Id:          uuid.NewString(),
		OwnerUserId: actor.Id,
		UnitId:      req.UnitId,
		CompoundId:  actor.CompoundId,
		Category:    entity.CategoryVisitor,
		CodeHash:    m.keys.Hash(code),
		ValidFrom:   req.ValidFrom,
		ValidTo:     req.ValidTo,
		CurrentUses: 0,
		SingleUse:   true,
		Active:      true,
		Visitor:     &visitor,
		CreatedAt:   time.Now().UTC(),
	}
	if req.MaxUses != nil {
		token.MaxUses = req.MaxUses
		token.SingleUse = *req.MaxUses == 1
	} else {
		one := int64(1)
		token.MaxUses = &one
	}

	if err = m.db.SaveToken(ctx, token); err != nil {
		return nil, "", fmt.Errorf("save visitor token: %w", err)
	}
	m.log.With(
		slog.String("token_id", token.Id),
		slog.String("unit_id", token.UnitId),
		slog.String("issued_by", actor.Id),
	).Info("visitor pass minted")
	return token, code, nil
}

// MintOrReuseOwnerToken lazily creates the owner entitlement token for
// (user, category, subtype, season). Idempotent: an existing live token
// for the exact scope is returned unchanged, so at most one live token
// exists per scope per season.
func (m *Minter) MintOrReuseOwnerToken(ctx context.Context, user *entity.User, unitId string, category entity.Category, subtype string, season *entity.Season) (*entity.AccessToken, string, error) {
	if !category.IsOwner() {
		return nil, "", fmt.Errorf("category %q is not an owner category", category)
	}
	holder, err := m.units.IsUnitKeyHolder(ctx, user.Id, unitId)
	if err != nil {
		return nil, "", fmt.Errorf("unit assignment lookup: %w", err)
	}
	if !holder {
		return nil, "", ErrScopeConflict
	}

	code := m.keys.OwnerCode(user.Id, user.CompoundId, string(category), subtype, season.Id)

	existing, err := m.db.FindOwnerToken(ctx, user.Id, category, subtype, season.Id)
	if err != nil {
		return nil, "", fmt.Errorf("owner token lookup: %w", err)
	}
	if existing != nil {
		return existing, code, nil
	}

	token := &entity.AccessToken{
		Id:              uuid.NewString(),
		OwnerUserId:     user.Id,
		UnitId:          unitId,
		CompoundId:      user.CompoundId,
		Category:        category,
		FacilitySubtype: subtype,
		CodeHash:        m.keys.Hash(code),
		SeasonId:        season.Id,
		ValidFrom:       season.StartsAt,
		ValidTo:         season.EndsAt,
		SingleUse:       false,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if err = m.db.SaveToken(ctx, token); err != nil {
		return nil, "", fmt.Errorf("save owner token: %w", err)
	}
	m.log.With(
		slog.String("token_id", token.Id),
		slog.String("user_id", user.Id),
		slog.String("category", string(category)),
		slog.String("season_id", season.Id),
	).Info("owner token minted")
	return token, code, nil
}

// Hash exposes the lookup-hash derivation for the validation engine.
func (m *Minter) Hash(code string) string {
	return m.keys.Hash(code)
}

func (m *Minter) requireUnitKey(ctx context.Context, actor *entity.User, unitId string) error {
	if actor.IsManagement() {
		return nil
	}
	holder, err := m.units.IsUnitKeyHolder(ctx, actor.Id, unitId)
	if err != nil {
		return fmt.Errorf("unit assignment lookup: %w", err)
	}
	if !holder {
		return ErrScopeConflict
	}
	return nil
}
