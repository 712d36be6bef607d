package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Amounts are stored as base-10 strings so uint256 values survive both dialects.
const schemaSQLite = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS twap_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    token_in TEXT NOT NULL,
    token_out TEXT NOT NULL,
    total_amount_in TEXT NOT NULL,
    intervals INTEGER NOT NULL,
    amount_per_interval TEXT NOT NULL,
    interval_seconds INTEGER NOT NULL,
    remaining_intervals INTEGER NOT NULL,
    executed_amount TEXT NOT NULL DEFAULT '0',
    amount_out_total TEXT NOT NULL DEFAULT '0',
    min_amount_out TEXT NOT NULL DEFAULT '0',
    last_execution_time INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL,
    status TEXT NOT NULL,
    execution_fee_reserved TEXT NOT NULL DEFAULT '0',
    fee_paid TEXT NOT NULL DEFAULT '0',
    created_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    claimed_by TEXT NOT NULL DEFAULT '',
    claim_expires_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_twap_orders_owner ON twap_orders(owner);
CREATE INDEX IF NOT EXISTS idx_twap_orders_active ON twap_orders(is_active);

CREATE TABLE IF NOT EXISTS execution_attempts (
    id TEXT PRIMARY KEY,
    order_id INTEGER NOT NULL,
    keeper TEXT NOT NULL,
    outcome TEXT NOT NULL,
    amount_in TEXT NOT NULL,
    amount_out TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_attempts_order ON execution_attempts(order_id, at);

CREATE TABLE IF NOT EXISTS ledger_entries (
    seq INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    asset TEXT NOT NULL,
    from_account TEXT NOT NULL,
    to_account TEXT NOT NULL,
    amount TEXT NOT NULL,
    at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS twap_orders (
    id BIGSERIAL PRIMARY KEY,
    owner TEXT NOT NULL,
    token_in TEXT NOT NULL,
    token_out TEXT NOT NULL,
    total_amount_in TEXT NOT NULL,
    intervals BIGINT NOT NULL,
    amount_per_interval TEXT NOT NULL,
    interval_seconds BIGINT NOT NULL,
    remaining_intervals BIGINT NOT NULL,
    executed_amount TEXT NOT NULL DEFAULT '0',
    amount_out_total TEXT NOT NULL DEFAULT '0',
    min_amount_out TEXT NOT NULL DEFAULT '0',
    last_execution_time BIGINT NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL,
    status TEXT NOT NULL,
    execution_fee_reserved TEXT NOT NULL DEFAULT '0',
    fee_paid TEXT NOT NULL DEFAULT '0',
    created_at BIGINT NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    claimed_by TEXT NOT NULL DEFAULT '',
    claim_expires_at BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_twap_orders_owner ON twap_orders(owner);
CREATE INDEX IF NOT EXISTS idx_twap_orders_active ON twap_orders(is_active);

CREATE TABLE IF NOT EXISTS execution_attempts (
    id TEXT PRIMARY KEY,
    order_id BIGINT NOT NULL,
    keeper TEXT NOT NULL,
    outcome TEXT NOT NULL,
    amount_in TEXT NOT NULL,
    amount_out TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_attempts_order ON execution_attempts(order_id, at);

CREATE TABLE IF NOT EXISTS ledger_entries (
    seq BIGINT PRIMARY KEY,
    kind TEXT NOT NULL,
    asset TEXT NOT NULL,
    from_account TEXT NOT NULL,
    to_account TEXT NOT NULL,
    amount TEXT NOT NULL,
    at BIGINT NOT NULL
);
`

// ApplyMigrations creates tables and backfills columns added after the first release.
func ApplyMigrations(d *Database) error {
	schema := schemaSQLite
	if d.Dialect == DialectPostgres {
		schema = schemaPostgres
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := ensureColumn(d, "execution_attempts", "latency_ms", "BIGINT NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(d *Database, table, column, definition string) error {
	exists, err := columnExists(d, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := d.DB.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(d *Database, table, column string) (bool, error) {
	if d.Dialect == DialectPostgres {
		var n int
		err := d.DB.QueryRow(
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, column,
		).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("information_schema lookup %s.%s: %w", table, column, err)
		}
		return n > 0, nil
	}

	rows, err := d.DB.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
