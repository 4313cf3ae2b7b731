package session

import (
	"context"
	"database/sql"
	"fmt"
)

// TableStats is the size estimate for a table from information_schema.
type TableStats struct {
	Rows         int64
	AvgRowLength int64
	DataLength   int64
	IndexLength  int64
}

// TableExists checks whether a table exists in the given database.
func (s *Session) TableExists(ctx context.Context, db, table string) (bool, error) {
	var one int
	err := s.QueryRow(ctx,
		"SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		db, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking table existence: %w", err)
	}
	return true, nil
}

// TriggersOn lists trigger names installed on the given table.
func (s *Session) TriggersOn(ctx context.Context, db, table string) ([]string, error) {
	rows, err := s.Query(ctx,
		"SELECT trigger_name FROM information_schema.triggers "+
			"WHERE event_object_schema = ? AND event_object_table = ?",
		db, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ShowCreateTable returns the server's CREATE TABLE statement.
func (s *Session) ShowCreateTable(ctx context.Context, table string) (string, error) {
	var name, create string
	err := s.QueryRow(ctx, "SHOW CREATE TABLE "+Quote(table)).Scan(&name, &create)
	if err != nil {
		return "", fmt.Errorf("show create table %s: %w", table, err)
	}
	return create, nil
}

// Stats reads row-count and length estimates for a table.
func (s *Session) Stats(ctx context.Context, db, table string) (TableStats, error) {
	var st TableStats
	err := s.QueryRow(ctx,
		"SELECT IFNULL(TABLE_ROWS, 0), IFNULL(AVG_ROW_LENGTH, 0), "+
			"IFNULL(DATA_LENGTH, 0), IFNULL(INDEX_LENGTH, 0) "+
			"FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		db, table).Scan(&st.Rows, &st.AvgRowLength, &st.DataLength, &st.IndexLength)
	if err != nil && err != sql.ErrNoRows {
		return st, fmt.Errorf("reading table stats: %w", err)
	}
	return st, nil
}

// ForeignKeyCount counts foreign keys referencing or defined on a table.
// Online copy is refused when any exist, since triggers cannot mirror
// cascading effects into the shadow table.
func (s *Session) ForeignKeyCount(ctx context.Context, db, table string) (int64, error) {
	var count int64
	err := s.QueryRow(ctx,
		"SELECT COUNT(DISTINCT rc.constraint_schema, rc.constraint_name) "+
			"FROM information_schema.referential_constraints rc "+
			"JOIN information_schema.key_column_usage kcu "+
			"USING (constraint_schema, constraint_name) "+
			"WHERE rc.referenced_table_name IS NOT NULL "+
			"AND ((rc.table_name = ? AND rc.constraint_schema = ?) "+
			"OR (rc.referenced_table_name = ? AND rc.constraint_schema = ?))",
		table, db, table, db).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting foreign keys: %w", err)
	}
	return count, nil
}

// ProcessIDsHoldingLock finds connection ids of sessions holding the
// named advisory lock, used by cleanup --kill.
func (s *Session) ProcessIDsHoldingLock(ctx context.Context, name string) ([]int64, error) {
	var holder sql.NullInt64
	err := s.QueryRow(ctx, "SELECT IS_USED_LOCK(?)", name).Scan(&holder)
	if err != nil {
		return nil, fmt.Errorf("inspecting lock %q: %w", name, err)
	}
	if !holder.Valid {
		return nil, nil
	}
	return []int64{holder.Int64}, nil
}
