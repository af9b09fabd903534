// Package memstore provides in-memory implementations of the passgate
// storage interfaces. Intended for tests and dev environments; the
// grant compare-and-swap holds the store mutex for the whole
// read-check-write, giving the same atomicity the mongo conditional
// update provides.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"passgate/entity"
)

type Store struct {
	mu     sync.Mutex
	tokens map[string]*entity.AccessToken
	scans  []*entity.ScanAttempt
	users  map[string]*entity.User
}

func New() *Store {
	return &Store{
		tokens: make(map[string]*entity.AccessToken),
		users:  make(map[string]*entity.User),
	}
}

func (s *Store) AddUser(user *entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Id] = user
}

func (s *Store) GetUserByApiToken(token string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Token == token {
			u := *user
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Store) GetUserById(_ context.Context, id string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u := *user
	return &u, nil
}

func (s *Store) SaveToken(_ context.Context, token *entity.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *token
	s.tokens[token.Id] = &t
	return nil
}

func (s *Store) GetToken(_ context.Context, id string) (*entity.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	t := *token
	return &t, nil
}

func (s *Store) GetTokenByHash(_ context.Context, hash string) (*entity.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.CodeHash == hash {
			t := *token
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Store) FindOwnerToken(_ context.Context, userId string, category entity.Category, subtype, seasonId string) (*entity.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.OwnerUserId == userId &&
			token.Category == category &&
			token.FacilitySubtype == subtype &&
			token.SeasonId == seasonId &&
			token.Active {
			t := *token
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Store) GrantUse(_ context.Context, tokenId string, deactivate bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenId]
	if !ok || !token.Active {
		return false, nil
	}
	if token.MaxUses != nil && token.CurrentUses >= *token.MaxUses {
		return false, nil
	}
	token.CurrentUses++
	if deactivate {
		token.Active = false
	}
	return true, nil
}

func (s *Store) Revoke(_ context.Context, tokenId, actorId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenId]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	token.Active = false
	token.RevokedAt = &now
	token.RevokedBy = actorId
	return nil
}

func (s *Store) DeactivateExpiredVisitorTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, token := range s.tokens {
		if token.Category == entity.CategoryVisitor && token.Active && token.ValidTo.Before(now) {
			token.Active = false
			count++
		}
	}
	return count, nil
}

func (s *Store) DeactivateSeasonTokens(_ context.Context, seasonId string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, token := range s.tokens {
		if token.SeasonId == seasonId && token.Active {
			token.Active = false
			count++
		}
	}
	return count, nil
}

func (s *Store) SaveScan(_ context.Context, attempt *entity.ScanAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *attempt
	s.scans = append(s.scans, &a)
	return nil
}

func (s *Store) ListScans(_ context.Context, filter entity.ScanFilter, page entity.PageRequest) (*entity.ScanPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*entity.ScanAttempt, 0, len(s.scans))
	for _, scan := range s.scans {
		if scan.CompoundId != filter.CompoundId {
			continue
		}
		if filter.TokenId != "" && scan.TokenId != filter.TokenId {
			continue
		}
		if filter.OwnerUserId != "" && scan.OwnerUserId != filter.OwnerUserId {
			continue
		}
		if filter.ScannerUserId != "" && scan.ScannerUserId != filter.ScannerUserId {
			continue
		}
		if !filter.From.IsZero() && scan.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && scan.Timestamp.After(filter.To) {
			continue
		}
		a := *scan
		matched = append(matched, &a)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := int64(len(matched))
	start := page.Skip()
	if start > total {
		start = total
	}
	end := start + page.PerPage
	if end > total {
		end = total
	}

	return &entity.ScanPage{
		Items:   matched[start:end],
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   total,
	}, nil
}

func (s *Store) PurgeScansBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.scans[:0]
	var purged int64
	for _, scan := range s.scans {
		if scan.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, scan)
	}
	s.scans = kept
	return purged, nil
}

// Scans returns a copy of the ledger contents. Test-only helper.
func (s *Store) Scans() []*entity.ScanAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.ScanAttempt, len(s.scans))
	copy(out, s.scans)
	return out
}
