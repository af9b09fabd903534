package memstore

import (
	"context"
	"sync"
	"time"

	"passgate/entity"
)

// Compound is an in-memory stand-in for the compound management
// database: seasons, service payments and unit ownership.
type Compound struct {
	mu       sync.Mutex
	seasons  map[string]*entity.Season
	payments []*entity.ServicePayment
	units    map[string][]string // unitId -> key holder user ids
}

func NewCompound() *Compound {
	return &Compound{
		seasons: make(map[string]*entity.Season),
		units:   make(map[string][]string),
	}
}

func (c *Compound) AddSeason(season *entity.Season) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := *season
	c.seasons[season.Id] = &s
}

func (c *Compound) AddPayment(payment *entity.ServicePayment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := *payment
	c.payments = append(c.payments, &p)
}

func (c *Compound) AddKeyHolder(unitId, userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[unitId] = append(c.units[unitId], userId)
}

func (c *Compound) ActiveSeason(_ context.Context, compoundId string) (*entity.Season, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, season := range c.seasons {
		if season.CompoundId == compoundId && season.Active {
			s := *season
			return &s, nil
		}
	}
	return nil, nil
}

func (c *Compound) EndedActiveSeasons(_ context.Context, now time.Time) ([]*entity.Season, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ended []*entity.Season
	for _, season := range c.seasons {
		if season.Active && season.EndsAt.Before(now) {
			s := *season
			ended = append(ended, &s)
		}
	}
	return ended, nil
}

func (c *Compound) CloseSeason(_ context.Context, seasonId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if season, ok := c.seasons[seasonId]; ok {
		season.Active = false
	}
	return nil
}

func (c *Compound) ServicePayment(_ context.Context, unitId, seasonId, serviceName string) (*entity.ServicePayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, payment := range c.payments {
		if payment.UnitId == unitId && payment.SeasonId == seasonId && payment.ServiceName == serviceName {
			p := *payment
			return &p, nil
		}
	}
	return nil, nil
}

func (c *Compound) MarkServicePaid(_ context.Context, unitId, seasonId, serviceName, sessionId string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, payment := range c.payments {
		if payment.UnitId == unitId && payment.SeasonId == seasonId && payment.ServiceName == serviceName && !payment.Paid {
			now := time.Now().UTC()
			payment.Paid = true
			payment.PaidAt = &now
			payment.SessionId = sessionId
			return true, nil
		}
	}
	return false, nil
}

func (c *Compound) IsUnitKeyHolder(_ context.Context, userId, unitId string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, holder := range c.units[unitId] {
		if holder == userId {
			return true, nil
		}
	}
	return false, nil
}

func (c *Compound) PrimaryUnit(_ context.Context, userId string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for unitId, holders := range c.units {
		for _, holder := range holders {
			if holder == userId {
				return unitId, nil
			}
		}
	}
	return "", nil
}
