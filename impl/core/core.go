package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"passgate/entity"
	"passgate/impl/minter"
	"passgate/lib/ratelimit"
	"passgate/lib/sl"

	"github.com/stripe/stripe-go/v76"
)

var (
	ErrNotFound       = errors.New("token not found")
	ErrScopeViolation = errors.New("actor may not act on this token")
	ErrRateLimited    = errors.New("issuance rate limit exceeded")
)

// Database is the token store and scan ledger the engine writes to.
// Implemented by internal/database (mongo) and internal/memstore.
type Database interface {
	GetTokenByHash(ctx context.Context, hash string) (*entity.AccessToken, error)
	GetToken(ctx context.Context, id string) (*entity.AccessToken, error)
	// GrantUse applies the grant as one conditional update: it matches
	// only an active token with remaining uses, increments the use
	// counter and, when deactivate is set, flips active off in the same
	// write. Returns false when the condition matched nothing, i.e.
	// this scan lost the race.
	GrantUse(ctx context.Context, tokenId string, deactivate bool) (bool, error)
	Revoke(ctx context.Context, tokenId, actorId string) error
	SaveScan(ctx context.Context, attempt *entity.ScanAttempt) error
	ListScans(ctx context.Context, filter entity.ScanFilter, page entity.PageRequest) (*entity.ScanPage, error)
	GetUserById(ctx context.Context, id string) (*entity.User, error)
}

type AuthService interface {
	UserByToken(token string) (*entity.User, error)
}

type Resolver interface {
	Resolve(ctx context.Context, compoundId, unitId string, category entity.Category, subtype string) (*entity.Entitlement, error)
}

// Billing exposes the season and payment state the engine needs beyond
// the resolver's entitlement join.
type Billing interface {
	ActiveSeason(ctx context.Context, compoundId string) (*entity.Season, error)
	ServicePayment(ctx context.Context, unitId, seasonId, serviceName string) (*entity.ServicePayment, error)
}

// Units answers which unit an owner holds keys for.
type Units interface {
	PrimaryUnit(ctx context.Context, userId string) (string, error)
}

// Notifier delivers fire-and-forget notices to token owners.
// Implementations must swallow their own failures.
type Notifier interface {
	Notify(ownerId string, kind entity.NotifyKind, fields map[string]string)
}

// Payments creates self-service checkout links for unpaid services.
type Payments interface {
	CheckoutLink(ctx context.Context, unitId, seasonId, serviceName string, amount int64, successUrl string) (string, error)
	VerifySignature(payload []byte, header string, tolerance time.Duration) bool
	HandleEvent(ctx context.Context, evt *stripe.Event)
}

// Core wires the minter, resolver, store, limiter and dispatcher into
// the operations exposed over HTTP.
type Core struct {
	db       Database
	mint     *minter.Minter
	resolver Resolver
	billing  Billing
	units    Units
	auth     AuthService
	notifier Notifier
	payments Payments
	limiter  *ratelimit.Limiter
	log      *slog.Logger
}

func New(db Database, mint *minter.Minter, resolver Resolver, billing Billing, units Units, limiter *ratelimit.Limiter, log *slog.Logger) *Core {
	if db == nil {
		panic("core: database is nil")
	}
	return &Core{
		db:       db,
		mint:     mint,
		resolver: resolver,
		billing:  billing,
		units:    units,
		limiter:  limiter,
		log:      log.With(sl.Module("core")),
	}
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

func (c *Core) SetNotifier(n Notifier) {
	c.notifier = n
}

func (c *Core) SetPayments(p Payments) {
	c.payments = p
}

func (c *Core) AuthenticateByToken(token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(token)
}

// IssueVisitorToken mints a time-boxed visitor pass on behalf of the
// actor, subject to the per-caller issuance rate limit.
func (c *Core) IssueVisitorToken(ctx context.Context, actor *entity.User, req *entity.VisitorPassRequest) (*entity.IssuedPass, error) {
	if c.limiter != nil && !c.limiter.Allow(actor.Id) {
		return nil, ErrRateLimited
	}
	token, code, err := c.mint.MintVisitorToken(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	return &entity.IssuedPass{
		Code:      code,
		RecordId:  token.Id,
		Category:  token.Category,
		ValidFrom: token.ValidFrom,
		ValidTo:   token.ValidTo,
	}, nil
}

// ownerScopes enumerates every owner entitlement scope a unit holder
// can carry. Payment state is deliberately not consulted here: the
// token exists either way, entitlement is joined live at scan time.
var ownerScopes = []struct {
	category entity.Category
	subtype  string
}{
	{entity.CategoryGate, ""},
	{entity.CategoryPool, ""},
	{entity.CategoryFacility, entity.FacilityKidsArea},
	{entity.CategoryFacility, entity.FacilityBeach},
}

// ResolveOwnerTokens lazily mints (or reuses) the actor's owner passes
// for the current season and returns their opaque codes. An actor with
// no unit assignment or no active season gets an empty list.
func (c *Core) ResolveOwnerTokens(ctx context.Context, actor *entity.User) ([]*entity.IssuedPass, error) {
	season, err := c.billing.ActiveSeason(ctx, actor.CompoundId)
	if err != nil {
		return nil, fmt.Errorf("active season: %w", err)
	}
	if season == nil {
		return []*entity.IssuedPass{}, nil
	}
	unitId, err := c.units.PrimaryUnit(ctx, actor.Id)
	if err != nil {
		return nil, fmt.Errorf("unit lookup: %w", err)
	}
	if unitId == "" {
		return []*entity.IssuedPass{}, nil
	}

	passes := make([]*entity.IssuedPass, 0, len(ownerScopes))
	for _, scope := range ownerScopes {
		token, code, err := c.mint.MintOrReuseOwnerToken(ctx, actor, unitId, scope.category, scope.subtype, season)
		if err != nil {
			if errors.Is(err, minter.ErrScopeConflict) {
				continue
			}
			return nil, err
		}
		passes = append(passes, &entity.IssuedPass{
			Code:      code,
			RecordId:  token.Id,
			Category:  token.Category,
			Subtype:   token.FacilitySubtype,
			ValidFrom: token.ValidFrom,
			ValidTo:   token.ValidTo,
		})
	}
	return passes, nil
}

// RevokeToken deactivates a token. Allowed for the token's owner, or
// for management/admin within the same compound. The record is kept for
// audit linkage; only the active flag changes.
func (c *Core) RevokeToken(ctx context.Context, actor *entity.User, tokenId string) (bool, error) {
	token, err := c.db.GetToken(ctx, tokenId)
	if err != nil {
		return false, fmt.Errorf("token lookup: %w", err)
	}
	if token == nil {
		return false, ErrNotFound
	}
	allowed := token.OwnerUserId != "" && token.OwnerUserId == actor.Id
	if !allowed {
		allowed = actor.IsManagement() && actor.SameCompound(token.CompoundId)
	}
	if !allowed {
		return false, ErrScopeViolation
	}
	if err = c.db.Revoke(ctx, tokenId, actor.Id); err != nil {
		return false, fmt.Errorf("revoke: %w", err)
	}
	c.log.With(
		slog.String("token_id", tokenId),
		slog.String("actor", actor.Id),
	).Info("token revoked")
	c.dispatch(token.OwnerUserId, entity.NotifyPassRevoked, map[string]string{
		"category": string(token.Category),
	})
	return true, nil
}

// ListScanHistory pages through the scan ledger, newest first. The
// filter is always pinned to the actor's compound; owners additionally
// see only scans of their own tokens.
func (c *Core) ListScanHistory(ctx context.Context, actor *entity.User, q *entity.HistoryQuery) (*entity.ScanPage, error) {
	filter := entity.ScanFilter{
		CompoundId:    actor.CompoundId,
		TokenId:       q.TokenId,
		OwnerUserId:   q.OwnerUserId,
		ScannerUserId: q.ScannerUserId,
		From:          q.From,
		To:            q.To,
	}
	if !actor.IsManagement() && actor.Role != entity.RoleGuard {
		filter.OwnerUserId = actor.Id
	}
	page := entity.PageRequest{Page: q.Page, PerPage: q.PerPage}
	page.Normalize()
	return c.db.ListScans(ctx, filter, page)
}

// CreatePaymentLink builds a Stripe checkout link for an unpaid service
// of one of the actor's units.
func (c *Core) CreatePaymentLink(ctx context.Context, actor *entity.User, req *entity.PaymentLinkRequest) (*entity.PaymentDetail, error) {
	if c.payments == nil {
		return nil, fmt.Errorf("payments service not connected")
	}
	season, err := c.billing.ActiveSeason(ctx, actor.CompoundId)
	if err != nil {
		return nil, fmt.Errorf("active season: %w", err)
	}
	if season == nil {
		return nil, fmt.Errorf("no active season")
	}
	payment, err := c.billing.ServicePayment(ctx, req.UnitId, season.Id, req.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("service payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("service %q is not billed for unit %s", req.ServiceName, req.UnitId)
	}
	if payment.Paid {
		return nil, fmt.Errorf("service %q is already paid for this season", req.ServiceName)
	}

	detail := &entity.PaymentDetail{
		ServiceName: req.ServiceName,
		SeasonId:    season.Id,
		AmountDue:   payment.Amount,
	}
	link, err := c.payments.CheckoutLink(ctx, req.UnitId, season.Id, req.ServiceName, payment.Amount, req.SuccessUrl)
	if err != nil {
		return nil, fmt.Errorf("checkout link: %w", err)
	}
	detail.PaymentLink = link
	return detail, nil
}

func (c *Core) StripeVerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	if c.payments == nil {
		return false
	}
	return c.payments.VerifySignature(payload, header, tolerance)
}

func (c *Core) StripeEvent(ctx context.Context, evt *stripe.Event) {
	if c.payments != nil {
		c.payments.HandleEvent(ctx, evt)
	}
}

// dispatch hands a notification to the dispatcher on its own goroutine;
// the scan or revoke response never waits for delivery.
func (c *Core) dispatch(ownerId string, kind entity.NotifyKind, fields map[string]string) {
	if c.notifier == nil || ownerId == "" {
		return
	}
	go c.notifier.Notify(ownerId, kind, fields)
}
