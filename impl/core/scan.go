package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"passgate/entity"
	"passgate/lib/sl"

	"github.com/google/uuid"
)

// SubmitScan runs the validation pipeline for one presented code.
// Predicates are ordered; the first failure fixes the denial reason.
// Every branch, including a failed lookup, writes exactly one ledger
// row. Only infrastructure failures surface as errors.
func (c *Core) SubmitScan(ctx context.Context, actor *entity.User, req *entity.ScanRequest) (*entity.ScanResult, error) {
	now := time.Now().UTC()

	token, err := c.db.GetTokenByHash(ctx, c.mint.Hash(req.Code))
	if err != nil {
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	if token == nil {
		return c.deny(ctx, nil, actor, req.LocationTag, entity.DenyNotFound, nil), nil
	}

	// Tenancy is checked before any state so a guessed code from
	// another compound leaks nothing about that token's real state.
	if token.CompoundId != actor.CompoundId {
		return c.deny(ctx, token, actor, req.LocationTag, entity.DenyCrossCompound, nil), nil
	}

	if reason, ok := stateCheck(token, now); !ok {
		return c.deny(ctx, token, actor, req.LocationTag, reason, nil), nil
	}

	var payment *entity.PaymentDetail
	if token.Category.IsOwner() {
		ent, err := c.resolver.Resolve(ctx, token.CompoundId, token.UnitId, token.Category, token.FacilitySubtype)
		if err != nil {
			return nil, fmt.Errorf("entitlement: %w", err)
		}
		if !ent.Entitled {
			payment = &entity.PaymentDetail{
				ServiceName: ent.ServiceName,
				SeasonId:    ent.SeasonId,
				AmountDue:   ent.AmountDue,
			}
			// Best effort: the owner can settle from the gate. A link
			// failure still denies with the amount due.
			if c.payments != nil && ent.AmountDue > 0 {
				link, err := c.payments.CheckoutLink(ctx, token.UnitId, ent.SeasonId, ent.ServiceName, ent.AmountDue, "")
				if err != nil {
					c.log.With(slog.String("token_id", token.Id), sl.Err(err)).Warn("checkout link for denial")
				} else {
					payment.PaymentLink = link
				}
			}
			return c.deny(ctx, token, actor, req.LocationTag, entity.DenyPaymentRequired, payment), nil
		}
	}

	// GRANT. One conditional write: increment, and for single-use
	// tokens deactivate, applied only while the token is still active
	// with remaining uses. A zero match count means a concurrent scan,
	// revoke or reaper run got there first.
	granted, err := c.db.GrantUse(ctx, token.Id, token.SingleUse)
	if err != nil {
		return nil, fmt.Errorf("grant update: %w", err)
	}
	if !granted {
		return c.deny(ctx, token, actor, req.LocationTag, c.raceReason(ctx, token, now), nil), nil
	}

	c.record(ctx, &entity.ScanAttempt{
		Id:            uuid.NewString(),
		TokenId:       token.Id,
		ScannerUserId: actor.Id,
		OwnerUserId:   token.OwnerUserId,
		CompoundId:    actor.CompoundId,
		Timestamp:     now,
		Outcome:       entity.OutcomeGranted,
		LocationTag:   req.LocationTag,
	})

	profile := c.grantProfile(ctx, token)
	c.notifyGrant(token, req.LocationTag)

	return &entity.ScanResult{
		Outcome: entity.OutcomeGranted,
		Profile: profile,
	}, nil
}

// stateCheck runs the ACTIVE, WINDOW and USAGE_CAP predicates in order.
func stateCheck(token *entity.AccessToken, now time.Time) (entity.DenialReason, bool) {
	if !token.Active {
		return entity.DenyInactive, false
	}
	if now.Before(token.ValidFrom) {
		return entity.DenyNotYetValid, false
	}
	if now.After(token.ValidTo) {
		return entity.DenyExpired, false
	}
	if token.Exhausted() {
		return entity.DenyMaxUsesExceeded, false
	}
	return "", true
}

// raceReason re-reads the token after a lost grant race and derives the
// denial from its fresh state, so a reaper- or rival-deactivated token
// reads INACTIVE rather than a generic failure.
func (c *Core) raceReason(ctx context.Context, stale *entity.AccessToken, now time.Time) entity.DenialReason {
	token, err := c.db.GetToken(ctx, stale.Id)
	if err != nil || token == nil {
		return entity.DenyInactive
	}
	if reason, ok := stateCheck(token, now); !ok {
		return reason
	}
	return entity.DenyInactive
}

// deny records the failed attempt and shapes the deny result. The
// ledger row carries the found token's id, or none for a failed lookup.
func (c *Core) deny(ctx context.Context, token *entity.AccessToken, actor *entity.User, locationTag string, reason entity.DenialReason, payment *entity.PaymentDetail) *entity.ScanResult {
	attempt := &entity.ScanAttempt{
		Id:            uuid.NewString(),
		ScannerUserId: actor.Id,
		CompoundId:    actor.CompoundId,
		Timestamp:     time.Now().UTC(),
		Outcome:       entity.OutcomeDenied,
		DenialReason:  reason,
		LocationTag:   locationTag,
	}
	if token != nil {
		attempt.TokenId = token.Id
		attempt.OwnerUserId = token.OwnerUserId
	}
	c.record(ctx, attempt)

	return &entity.ScanResult{
		Outcome:      entity.OutcomeDenied,
		DenialReason: reason,
		Payment:      payment,
	}
}

// record appends to the scan ledger. A ledger failure must not flip a
// decision that is already made, so the error goes to the operational
// log channel and nowhere else.
func (c *Core) record(ctx context.Context, attempt *entity.ScanAttempt) {
	if err := c.db.SaveScan(ctx, attempt); err != nil {
		c.log.With(
			slog.String("token_id", attempt.TokenId),
			slog.String("outcome", string(attempt.Outcome)),
			sl.Err(err),
		).Error("scan ledger write failed")
	}
}

// grantProfile shapes the payload shown to the scanning guard: visitor
// metadata for visitor passes, holder identity for owner entitlements.
func (c *Core) grantProfile(ctx context.Context, token *entity.AccessToken) *entity.GrantProfile {
	profile := &entity.GrantProfile{Category: token.Category}
	if token.Category == entity.CategoryVisitor {
		profile.Label = "Visitor pass"
		profile.Visitor = token.Visitor
		profile.HolderUnitId = token.UnitId
		return profile
	}

	profile.Label = ownerLabel(token.Category, token.FacilitySubtype)
	profile.HolderUnitId = token.UnitId
	if owner, err := c.db.GetUserById(ctx, token.OwnerUserId); err == nil && owner != nil {
		profile.HolderName = owner.Name
	}
	return profile
}

func ownerLabel(category entity.Category, subtype string) string {
	switch category {
	case entity.CategoryGate:
		return "Gate access"
	case entity.CategoryPool:
		return "Pool access"
	case entity.CategoryFacility:
		switch subtype {
		case entity.FacilityKidsArea:
			return "Kids area access"
		case entity.FacilityBeach:
			return "Beach access"
		}
		return "Facility access"
	}
	return string(category)
}

func (c *Core) notifyGrant(token *entity.AccessToken, locationTag string) {
	if token.OwnerUserId == "" {
		return
	}
	kind := entity.NotifyAccessGranted
	fields := map[string]string{
		"category": string(token.Category),
		"location": locationTag,
	}
	if token.Category == entity.CategoryVisitor && token.Visitor != nil {
		kind = entity.NotifyVisitorArrived
		fields["visitor"] = token.Visitor.Name
	}
	c.dispatch(token.OwnerUserId, kind, fields)
}
