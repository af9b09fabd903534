package entity

import (
	"net/http"
	"time"

	"passgate/lib/validate"
)

type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// DenialReason enumerates the structured deny outcomes of a scan.
// These are business results, not errors; every one of them is written
// to the scan ledger.
type DenialReason string

const (
	DenyNotFound        DenialReason = "NOT_FOUND"
	DenyCrossCompound   DenialReason = "CROSS_COMPOUND"
	DenyInactive        DenialReason = "INACTIVE"
	DenyExpired         DenialReason = "EXPIRED"
	DenyNotYetValid     DenialReason = "NOT_YET_VALID"
	DenyMaxUsesExceeded DenialReason = "MAX_USES_EXCEEDED"
	DenyPaymentRequired DenialReason = "PAYMENT_REQUIRED"
)

// ScanAttempt is one immutable row of the append-only scan ledger.
// TokenId is empty when the presented code matched nothing.
type ScanAttempt struct {
	Id            string       `json:"id" bson:"id"`
	TokenId       string       `json:"token_id,omitempty" bson:"token_id,omitempty"`
	ScannerUserId string       `json:"scanner_user_id" bson:"scanner_user_id"`
	OwnerUserId   string       `json:"owner_user_id,omitempty" bson:"owner_user_id,omitempty"`
	CompoundId    string       `json:"compound_id" bson:"compound_id"`
	Timestamp     time.Time    `json:"timestamp" bson:"timestamp"`
	Outcome       Outcome      `json:"outcome" bson:"outcome"`
	DenialReason  DenialReason `json:"denial_reason,omitempty" bson:"denial_reason,omitempty"`
	LocationTag   string       `json:"location_tag,omitempty" bson:"location_tag,omitempty"`
}

// ScanRequest is the wire request for submitting a scanned code.
type ScanRequest struct {
	Code        string `json:"code" validate:"required,min=16"`
	LocationTag string `json:"location_tag,omitempty"`
}

func (r *ScanRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

// ScanResult is the decision returned to the scanner. Profile carries
// the visitor metadata or owner identity shown to the guard on grant;
// Payment carries the unpaid-service details on PAYMENT_REQUIRED.
type ScanResult struct {
	Outcome      Outcome        `json:"outcome"`
	DenialReason DenialReason   `json:"denial_reason,omitempty"`
	Profile      *GrantProfile  `json:"profile,omitempty"`
	Payment      *PaymentDetail `json:"payment,omitempty"`
}

// GrantProfile differs by token category: visitor fields for visitor
// passes, holder fields for owner entitlements.
type GrantProfile struct {
	Category     Category        `json:"category"`
	Label        string          `json:"label"`
	Visitor      *VisitorProfile `json:"visitor,omitempty"`
	HolderName   string          `json:"holder_name,omitempty"`
	HolderUnitId string          `json:"holder_unit_id,omitempty"`
}

// ScanFilter narrows a ledger query. Zero values mean "no constraint";
// CompoundId is always forced by the caller's tenancy.
type ScanFilter struct {
	CompoundId    string
	TokenId       string
	OwnerUserId   string
	ScannerUserId string
	From          time.Time
	To            time.Time
}

// PageRequest is offset pagination with ledger defaults: newest first,
// 50 rows per page.
type PageRequest struct {
	Page    int64 `json:"page"`
	PerPage int64 `json:"per_page"`
}

func (p *PageRequest) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 || p.PerPage > 500 {
		p.PerPage = 50
	}
}

func (p *PageRequest) Skip() int64 {
	return (p.Page - 1) * p.PerPage
}

// ScanPage is one page of ledger projections.
type ScanPage struct {
	Items   []*ScanAttempt `json:"items"`
	Page    int64          `json:"page"`
	PerPage int64          `json:"per_page"`
	Total   int64          `json:"total"`
}

// HistoryQuery is the wire shape of the listScanHistory filter.
type HistoryQuery struct {
	TokenId       string    `json:"token_id,omitempty"`
	OwnerUserId   string    `json:"owner_user_id,omitempty"`
	ScannerUserId string    `json:"scanner_user_id,omitempty"`
	From          time.Time `json:"from,omitempty"`
	To            time.Time `json:"to,omitempty"`
	Page          int64     `json:"page,omitempty"`
	PerPage       int64     `json:"per_page,omitempty"`
}

func (q *HistoryQuery) Bind(_ *http.Request) error {
	return validate.Struct(q)
}
