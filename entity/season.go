package entity

import (
	"net/http"
	"time"

	"passgate/lib/validate"
)

// Season is a bounded billing period scoping service payments and owner
// entitlements. Stored in the compound management database.
type Season struct {
	Id         string    `json:"id"`
	CompoundId string    `json:"compound_id"`
	Name       string    `json:"name"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Active     bool      `json:"active"`
}

func (s *Season) Contains(t time.Time) bool {
	return !t.Before(s.StartsAt) && !t.After(s.EndsAt)
}

// ServicePayment is one unit's payment record for a named service in a
// season. Entitlement is derived from Paid and nothing else.
type ServicePayment struct {
	UnitId      string     `json:"unit_id"`
	SeasonId    string     `json:"season_id"`
	ServiceName string     `json:"service_name"`
	Amount      int64      `json:"amount"`
	Paid        bool       `json:"paid"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	SessionId   string     `json:"session_id,omitempty"`
}

// Entitlement is the per-scan snapshot answering whether a unit's
// payment state permits a category of access. Never persisted and
// never cached on a token.
type Entitlement struct {
	Entitled    bool   `json:"entitled"`
	SeasonId    string `json:"season_id,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	AmountDue   int64  `json:"amount_due,omitempty"`
}

// PaymentDetail is the payload attached to a PAYMENT_REQUIRED denial
// and to self-service checkout-link responses.
type PaymentDetail struct {
	ServiceName string `json:"service_name"`
	SeasonId    string `json:"season_id"`
	AmountDue   int64  `json:"amount_due,omitempty"`
	PaymentLink string `json:"payment_link,omitempty"`
}

// PaymentLinkRequest asks for a Stripe checkout link for an unpaid
// service of the caller's unit.
type PaymentLinkRequest struct {
	UnitId      string `json:"unit_id" validate:"required"`
	ServiceName string `json:"service_name" validate:"required"`
	SuccessUrl  string `json:"success_url" validate:"omitempty,url"`
}

func (r *PaymentLinkRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}
