package entity

import (
	"net/http"
	"time"

	"passgate/lib/validate"

	"github.com/biter777/countries"
)

// Category is the kind of access a token grants.
// Visitor passes are time-boxed and usually single-use; the owner
// categories are season-scoped and payment-gated at scan time.
type Category string

const (
	CategoryVisitor  Category = "visitor"
	CategoryGate     Category = "gate"
	CategoryPool     Category = "pool"
	CategoryFacility Category = "facility"
)

// Facility subtypes for CategoryFacility tokens.
const (
	FacilityKidsArea = "kids_area"
	FacilityBeach    = "beach"
)

func (c Category) IsOwner() bool {
	return c == CategoryGate || c == CategoryPool || c == CategoryFacility
}

func (c Category) Valid() bool {
	switch c {
	case CategoryVisitor, CategoryGate, CategoryPool, CategoryFacility:
		return true
	}
	return false
}

// VisitorProfile is the metadata shown to the guard when a visitor
// pass is granted.
type VisitorProfile struct {
	Name         string `json:"name" bson:"name" validate:"required,min=2"`
	Phone        string `json:"phone" bson:"phone" validate:"omitempty,min=5"`
	Country      string `json:"country,omitempty" bson:"country,omitempty"`
	VehiclePlate string `json:"vehicle_plate,omitempty" bson:"vehicle_plate,omitempty"`
	PersonCount  int    `json:"person_count" bson:"person_count" validate:"omitempty,min=1,max=50"`
}

// CountryCode normalizes the free-form country field to ISO alpha-2.
// Returns an empty string when the country is unknown.
func (v *VisitorProfile) CountryCode() string {
	if v.Country == "" {
		return ""
	}
	if len(v.Country) == 2 {
		return v.Country
	}
	code := countries.ByName(v.Country).Alpha2()
	if len(code) == 2 {
		return code
	}
	return ""
}

// AccessToken is a persisted access grant. The opaque code presented at
// the gate is never stored; only its salted one-way hash is.
type AccessToken struct {
	Id              string          `json:"id" bson:"id"`
	OwnerUserId     string          `json:"owner_user_id,omitempty" bson:"owner_user_id,omitempty"`
	UnitId          string          `json:"unit_id,omitempty" bson:"unit_id,omitempty"`
	CompoundId      string          `json:"compound_id" bson:"compound_id"`
	Category        Category        `json:"category" bson:"category"`
	FacilitySubtype string          `json:"facility_subtype,omitempty" bson:"facility_subtype,omitempty"`
	CodeHash        string          `json:"-" bson:"code_hash"`
	SeasonId        string          `json:"season_id,omitempty" bson:"season_id,omitempty"`
	ValidFrom       time.Time       `json:"valid_from" bson:"valid_from"`
	ValidTo         time.Time       `json:"valid_to" bson:"valid_to"`
	MaxUses         *int64          `json:"max_uses,omitempty" bson:"max_uses,omitempty"`
	CurrentUses     int64           `json:"current_uses" bson:"current_uses"`
	SingleUse       bool            `json:"single_use" bson:"single_use"`
	Active          bool            `json:"active" bson:"active"`
	Visitor         *VisitorProfile `json:"visitor,omitempty" bson:"visitor,omitempty"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	RevokedAt       *time.Time      `json:"revoked_at,omitempty" bson:"revoked_at,omitempty"`
	RevokedBy       string          `json:"revoked_by,omitempty" bson:"revoked_by,omitempty"`
}

// InWindow reports whether now falls inside [ValidFrom, ValidTo].
func (t *AccessToken) InWindow(now time.Time) bool {
	return !now.Before(t.ValidFrom) && !now.After(t.ValidTo)
}

// Exhausted reports whether the usage cap has been reached.
// A nil MaxUses means unlimited.
func (t *AccessToken) Exhausted() bool {
	return t.MaxUses != nil && t.CurrentUses >= *t.MaxUses
}

// IssuedPass is what the issuing caller receives: the one-time view of
// the opaque code together with the persisted record id and scope.
type IssuedPass struct {
	Code      string    `json:"code"`
	RecordId  string    `json:"record_id"`
	Category  Category  `json:"category"`
	Subtype   string    `json:"subtype,omitempty"`
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
}

// VisitorPassRequest is the wire request for issuing a visitor pass.
type VisitorPassRequest struct {
	UnitId    string         `json:"unit_id" validate:"required"`
	Visitor   VisitorProfile `json:"visitor" validate:"required"`
	ValidFrom time.Time      `json:"valid_from" validate:"required"`
	ValidTo   time.Time      `json:"valid_to" validate:"required"`
	MaxUses   *int64         `json:"max_uses,omitempty" validate:"omitempty,min=1"`
}

func (r *VisitorPassRequest) Bind(_ *http.Request) error {
	if r.Visitor.PersonCount == 0 {
		r.Visitor.PersonCount = 1
	}
	return validate.Struct(r)
}
