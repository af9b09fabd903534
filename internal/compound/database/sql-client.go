package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"passgate/entity"
	"passgate/internal/config"
)

// MySql reads the compound management database: units, owners, seasons,
// services and service payments. The entitlement engine treats it as
// the single source of payment truth; tokens never cache any of it.
type MySql struct {
	db         *sql.DB
	loc        *time.Location
	prefix     string
	statements map[string]*sql.Stmt
	mu         sync.Mutex
}

func NewSQLClient(conf *config.Config) (*MySql, error) {
	if !conf.CompoundDB.Enabled {
		return nil, fmt.Errorf("compound database is disabled in configuration")
	}
	connectionURI := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		conf.CompoundDB.UserName, conf.CompoundDB.Password, conf.CompoundDB.HostName, conf.CompoundDB.Port, conf.CompoundDB.Database)
	db, err := sql.Open("mysql", connectionURI)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// try to ping three times with a 30-second interval; wait for a database to start
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(30 * time.Second)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	sdb := &MySql{
		db:         db,
		prefix:     conf.CompoundDB.Prefix,
		statements: make(map[string]*sql.Stmt),
	}

	// Checkout sessions are recorded next to the payment row they settle.
	if err = sdb.addColumnIfNotExists("service_payment", "st_session_id", "VARCHAR(64) NOT NULL DEFAULT ''"); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(conf.Location)
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	sdb.loc = loc

	return sdb, nil
}

func (s *MySql) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

// ActiveSeason returns the compound's currently active season, or nil
// when no season is flagged active.
func (s *MySql) ActiveSeason(ctx context.Context, compoundId string) (*entity.Season, error) {
	stmt, err := s.stmtSelectActiveSeason()
	if err != nil {
		return nil, err
	}
	var season entity.Season
	err = stmt.QueryRowContext(ctx, compoundId).Scan(
		&season.Id,
		&season.CompoundId,
		&season.Name,
		&season.StartsAt,
		&season.EndsAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select active season: %w", err)
	}
	season.Active = true
	season.StartsAt = season.StartsAt.In(s.loc)
	season.EndsAt = season.EndsAt.In(s.loc)
	return &season, nil
}

// EndedActiveSeasons lists seasons still flagged active whose end date
// has passed; the reaper closes them out.
func (s *MySql) EndedActiveSeasons(ctx context.Context, now time.Time) ([]*entity.Season, error) {
	stmt, err := s.stmtSelectEndedActiveSeasons()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("select ended seasons: %w", err)
	}
	defer rows.Close()

	var seasons []*entity.Season
	for rows.Next() {
		var season entity.Season
		if err = rows.Scan(
			&season.Id,
			&season.CompoundId,
			&season.Name,
			&season.StartsAt,
			&season.EndsAt,
		); err != nil {
			return nil, fmt.Errorf("scan season: %w", err)
		}
		season.Active = true
		seasons = append(seasons, &season)
	}
	return seasons, rows.Err()
}

func (s *MySql) CloseSeason(ctx context.Context, seasonId string) error {
	stmt, err := s.stmtCloseSeason()
	if err != nil {
		return err
	}
	if _, err = stmt.ExecContext(ctx, seasonId); err != nil {
		return fmt.Errorf("close season: %w", err)
	}
	return nil
}

// ServicePayment returns the unit's payment row for a named service in
// a season, or nil when the service is not billed for that unit.
func (s *MySql) ServicePayment(ctx context.Context, unitId, seasonId, serviceName string) (*entity.ServicePayment, error) {
	stmt, err := s.stmtSelectServicePayment()
	if err != nil {
		return nil, err
	}
	var payment entity.ServicePayment
	var paidAt sql.NullTime
	err = stmt.QueryRowContext(ctx, unitId, seasonId, serviceName).Scan(
		&payment.UnitId,
		&payment.SeasonId,
		&payment.ServiceName,
		&payment.Amount,
		&payment.Paid,
		&paidAt,
		&payment.SessionId,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select service payment: %w", err)
	}
	if paidAt.Valid {
		t := paidAt.Time.In(s.loc)
		payment.PaidAt = &t
	}
	return &payment, nil
}

// MarkServicePaid settles a payment row from a completed checkout
// session. Idempotent: an already-paid row is left untouched.
func (s *MySql) MarkServicePaid(ctx context.Context, unitId, seasonId, serviceName, sessionId string) (bool, error) {
	stmt, err := s.stmtMarkServicePaid()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, time.Now().In(s.loc), sessionId, unitId, seasonId, serviceName)
	if err != nil {
		return false, fmt.Errorf("mark service paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark service paid: %w", err)
	}
	return affected > 0, nil
}

// IsUnitKeyHolder reports whether the user is registered as an owner of
// the unit.
func (s *MySql) IsUnitKeyHolder(ctx context.Context, userId, unitId string) (bool, error) {
	stmt, err := s.stmtCountUnitOwner()
	if err != nil {
		return false, err
	}
	var count int64
	if err = stmt.QueryRowContext(ctx, userId, unitId).Scan(&count); err != nil {
		return false, fmt.Errorf("count unit owner: %w", err)
	}
	return count > 0, nil
}

// PrimaryUnit returns the first unit the user owns, or an empty string
// for users with no unit assignment.
func (s *MySql) PrimaryUnit(ctx context.Context, userId string) (string, error) {
	stmt, err := s.stmtSelectPrimaryUnit()
	if err != nil {
		return "", err
	}
	var unitId string
	err = stmt.QueryRowContext(ctx, userId).Scan(&unitId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select primary unit: %w", err)
	}
	return unitId, nil
}

// UnitOwnerId resolves the owning user of a unit, used to route
// payment-received notices.
func (s *MySql) UnitOwnerId(ctx context.Context, unitId string) (string, error) {
	stmt, err := s.stmtSelectUnitOwner()
	if err != nil {
		return "", err
	}
	var userId string
	err = stmt.QueryRowContext(ctx, unitId).Scan(&userId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select unit owner: %w", err)
	}
	return userId, nil
}
