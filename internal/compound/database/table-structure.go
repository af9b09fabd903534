package database

import (
	"errors"
	"fmt"
	"strings"
)

// columnExists checks information_schema for a column on a prefixed table.
func (s *MySql) columnExists(tableName, columnName string) (bool, error) {
	query := `
        SELECT COUNT(*)
          FROM information_schema.columns
         WHERE table_schema = DATABASE()
           AND table_name = ?
           AND column_name = ?`
	var count int64
	if err := s.db.QueryRow(query, s.prefix+tableName, columnName).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query columns: %w", err)
	}
	return count > 0, nil
}

// addColumnIfNotExists extends a management-database table in place.
// The schema is owned by the compound ERP; only additive changes are
// ever applied here.
func (s *MySql) addColumnIfNotExists(tableName, columnName, definition string) error {
	if strings.TrimSpace(columnName) == "" {
		return errors.New("column name is empty")
	}
	exists, err := s.columnExists(tableName, columnName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	query := fmt.Sprintf("ALTER TABLE %s%s ADD COLUMN %s %s",
		s.prefix, tableName, columnName, definition)
	if _, err = s.db.Exec(query); err != nil {
		return fmt.Errorf("add column %s.%s: %w", tableName, columnName, err)
	}
	return nil
}
