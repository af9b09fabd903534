package database

import (
	"database/sql"
	"fmt"
)

func (s *MySql) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

func (s *MySql) stmtSelectActiveSeason() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT season_id, compound_id, name, starts_at, ends_at
           FROM %sseason
          WHERE compound_id = ? AND active = 1
          ORDER BY starts_at DESC
          LIMIT 1`,
		s.prefix,
	)
	return s.prepareStmt("selectActiveSeason", query)
}

func (s *MySql) stmtSelectEndedActiveSeasons() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT season_id, compound_id, name, starts_at, ends_at
           FROM %sseason
          WHERE active = 1 AND ends_at < ?`,
		s.prefix,
	)
	return s.prepareStmt("selectEndedActiveSeasons", query)
}

func (s *MySql) stmtCloseSeason() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`UPDATE %sseason SET active = 0 WHERE season_id = ?`,
		s.prefix,
	)
	return s.prepareStmt("closeSeason", query)
}

func (s *MySql) stmtSelectServicePayment() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT sp.unit_id, sp.season_id, sv.name, sp.amount, sp.paid, sp.paid_at, sp.st_session_id
           FROM %sservice_payment sp
           JOIN %sservice sv ON sv.service_id = sp.service_id
          WHERE sp.unit_id = ? AND sp.season_id = ? AND sv.name = ?`,
		s.prefix, s.prefix,
	)
	return s.prepareStmt("selectServicePayment", query)
}

func (s *MySql) stmtMarkServicePaid() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`UPDATE %sservice_payment sp
           JOIN %sservice sv ON sv.service_id = sp.service_id
            SET sp.paid = 1, sp.paid_at = ?, sp.st_session_id = ?
          WHERE sp.unit_id = ? AND sp.season_id = ? AND sv.name = ? AND sp.paid = 0`,
		s.prefix, s.prefix,
	)
	return s.prepareStmt("markServicePaid", query)
}

func (s *MySql) stmtCountUnitOwner() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %sunit_owner WHERE user_id = ? AND unit_id = ?`,
		s.prefix,
	)
	return s.prepareStmt("countUnitOwner", query)
}

func (s *MySql) stmtSelectPrimaryUnit() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT unit_id FROM %sunit_owner WHERE user_id = ? ORDER BY unit_id LIMIT 1`,
		s.prefix,
	)
	return s.prepareStmt("selectPrimaryUnit", query)
}

func (s *MySql) stmtSelectUnitOwner() (*sql.Stmt, error) {
	query := fmt.Sprintf(
		`SELECT user_id FROM %sunit_owner WHERE unit_id = ? ORDER BY user_id LIMIT 1`,
		s.prefix,
	)
	return s.prepareStmt("selectUnitOwner", query)
}
