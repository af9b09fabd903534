package auth

import (
	"errors"
	"fmt"

	"passgate/entity"
)

var ErrUnknownToken = errors.New("api token not recognized")

// Database resolves an API bearer token to the acting user.
type Database interface {
	GetUserByApiToken(token string) (*entity.User, error)
}

// Auth supplies the {userId, compoundId, role} context for every
// authenticated request.
type Auth struct {
	db Database
}

func New(db Database) *Auth {
	return &Auth{db: db}
}

func (a Auth) UserByToken(token string) (*entity.User, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	user, err := a.db.GetUserByApiToken(token)
	if err != nil {
		return nil, ErrUnknownToken
	}
	if user == nil || user.CompoundId == "" {
		return nil, ErrUnknownToken
	}
	return user, nil
}
