package config

import (
	"context"
	"database/sql"
	"fmt"

	// Blank-imported so a host can point SQLOverrideStore at any of the
	// three dialects the teacher's migrations.Runner already supported,
	// without Marlin itself depending on a particular one.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLOverrideStore is an optional durable backing for per-site config
// overrides, for hosts that want more than flat ".config" files (spec.md
// §6's persisted state is file-based by default; this is Marlin's own
// opt-in extension, grounded on the teacher's migrations.Runner taking a
// *sql.DB + dialect pair).
type SQLOverrideStore struct {
	DB      *sql.DB
	Dialect string
	Table   string
}

// NewSQLOverrideStore returns a store using "marlin_config_overrides" as
// its table name.
func NewSQLOverrideStore(db *sql.DB, dialect string) *SQLOverrideStore {
	return &SQLOverrideStore{DB: db, Dialect: dialect, Table: "marlin_config_overrides"}
}

// EnsureTable creates the override table if it does not already exist.
func (st *SQLOverrideStore) EnsureTable(ctx context.Context) error {
	var ddl string
	switch st.Dialect {
	case "postgres":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			persist_name TEXT NOT NULL,
			section TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (persist_name, section, key)
		)`, st.Table)
	case "mysql":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			persist_name VARCHAR(255) NOT NULL,
			section VARCHAR(255) NOT NULL,
			` + "`key`" + ` VARCHAR(255) NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (persist_name, section, ` + "`key`" + `)
		)`, st.Table)
	default: // sqlite
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			persist_name TEXT NOT NULL,
			section TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (persist_name, section, key)
		)`, st.Table)
	}
	_, err := st.DB.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("config: creating override table: %w", err)
	}
	return nil
}

// Put upserts a single override value.
func (st *SQLOverrideStore) Put(ctx context.Context, persistName, section, key, value string) error {
	var q string
	switch st.Dialect {
	case "postgres":
		q = fmt.Sprintf(`INSERT INTO %s (persist_name, section, key, value) VALUES ($1,$2,$3,$4)
			ON CONFLICT (persist_name, section, key) DO UPDATE SET value = EXCLUDED.value`, st.Table)
	default:
		q = fmt.Sprintf(`INSERT INTO %s (persist_name, section, key, value) VALUES (?,?,?,?)
			ON CONFLICT (persist_name, section, key) DO UPDATE SET value = excluded.value`, st.Table)
	}
	_, err := st.DB.ExecContext(ctx, q, persistName, section, key, value)
	if err != nil {
		return fmt.Errorf("config: writing override: %w", err)
	}
	return nil
}

// LoadInto reads every row for persistName into the Source's override
// document for that name.
func (st *SQLOverrideStore) LoadInto(ctx context.Context, s *Source, persistName string) error {
	placeholder := "?"
	if st.Dialect == "postgres" {
		placeholder = "$1"
	}
	rows, err := st.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT section, key, value FROM %s WHERE persist_name = %s`, st.Table, placeholder),
		persistName)
	if err != nil {
		return fmt.Errorf("config: reading overrides: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.overrides[persistName]
	if !ok {
		doc = document{}
		s.overrides[persistName] = doc
	}
	for rows.Next() {
		var sec, key, value string
		if err := rows.Scan(&sec, &key, &value); err != nil {
			return fmt.Errorf("config: scanning override row: %w", err)
		}
		secMap, ok := doc[sec]
		if !ok {
			secMap = section{}
			doc[sec] = secMap
		}
		secMap[key] = value
	}
	return rows.Err()
}
