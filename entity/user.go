package entity

import (
	"net/http"
	"time"

	"passgate/lib/validate"
)

// Role controls what a user may do inside their compound.
// Owners hold unit keys, guards operate scanners, management and admins
// can issue passes for any unit and revoke other people's tokens.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleGuard      Role = "guard"
	RoleManagement Role = "management"
	RoleAdmin      Role = "admin"
)

// User represents an API actor: a unit owner, a gate guard or compound staff.
// Telegram fields are populated when the user links the notification bot.
type User struct {
	Id              string    `json:"id" bson:"id" validate:"required"`
	Username        string    `json:"username" bson:"username" validate:"required"`
	Name            string    `json:"name" bson:"name" validate:"omitempty"`
	Phone           string    `json:"phone" bson:"phone" validate:"omitempty"`
	Token           string    `json:"token" bson:"token" validate:"required,min=1"`
	CompoundId      string    `json:"compound_id" bson:"compound_id" validate:"required"`
	UnitId          string    `json:"unit_id,omitempty" bson:"unit_id,omitempty"`
	Role            Role      `json:"role" bson:"role" validate:"required"`
	TelegramId      int64     `json:"telegram_id" bson:"telegram_id" validate:"omitempty"`
	TelegramEnabled bool      `json:"telegram_enabled" bson:"telegram_enabled" validate:"omitempty"`
	RegisteredAt    time.Time `json:"registered_at" bson:"registered_at"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsManagement reports whether the user can act on behalf of any unit
// in their compound.
func (u *User) IsManagement() bool {
	return u.Role == RoleManagement || u.Role == RoleAdmin
}

// SameCompound guards every cross-tenant operation.
func (u *User) SameCompound(compoundId string) bool {
	return u.CompoundId == compoundId
}
