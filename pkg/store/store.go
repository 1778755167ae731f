// Package store implements the persistence layer: the append-only envelope
// log with its hash chain, the typed claim-record side tables, registrations,
// confirmations, and the visibility ("sees") edge table.
//
// The store speaks database/sql against either sqlite (modernc.org/sqlite)
// or postgres (lib/pq); the driver is chosen from the DSN scheme. Queries
// are written with ? placeholders and rebound to $n for postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound reports that no row matched the lookup.
	ErrNotFound = errors.New("store: not found")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQL is the relational claim store.
type SQL struct {
	db      *sql.DB
	dialect dialect

	// chainMu serializes UpdateChain: the rebuild pass reads all unchained
	// rows and writes links back sequentially, so two concurrent passes
	// would double-link.
	chainMu sync.Mutex
}

// Open connects to the database named by dsn and creates the schema if it
// does not exist. DSNs beginning with postgres:// use lib/pq; everything
// else is treated as a sqlite path (":memory:" works for tests).
func Open(dsn string) (*SQL, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = sql.Open("postgres", dsn)
		d = dialectPostgres
	} else {
		db, err = sql.Open("sqlite", dsn)
		d = dialectSQLite
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %w", err)
	}
	s := &SQL{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing database handle. The schema must already
// exist; used by tests that drive the store with a mocked connection.
func NewWithDB(db *sql.DB) *SQL {
	return &SQL{db: db, dialect: dialectSQLite}
}

// Close releases the underlying database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS envelopes (
			id ` + serial + `,
			issuer TEXT NOT NULL,
			subject TEXT,
			issued_at INTEGER NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			claim_type TEXT NOT NULL DEFAULT '',
			claim_canonical TEXT NOT NULL,
			claim_encoded TEXT NOT NULL,
			jwt_raw TEXT NOT NULL,
			masked_hash TEXT,
			chain_hash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id ` + serial + `,
			org_name TEXT NOT NULL,
			name TEXT NOT NULL,
			start_time TEXT NOT NULL,
			envelope_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id ` + serial + `,
			agent_did TEXT NOT NULL,
			event_id INTEGER NOT NULL,
			envelope_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tenures (
			id ` + serial + `,
			party_did TEXT NOT NULL,
			polygon TEXT NOT NULL,
			envelope_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS org_roles (
			id ` + serial + `,
			org_name TEXT NOT NULL,
			role_name TEXT NOT NULL,
			start_date TEXT,
			end_date TEXT,
			member_did TEXT NOT NULL,
			envelope_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id ` + serial + `,
			voter_did TEXT NOT NULL,
			action_option TEXT,
			candidate TEXT,
			event_name TEXT,
			event_start TEXT,
			envelope_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS confirmations (
			id ` + serial + `,
			issuer_did TEXT NOT NULL,
			envelope_id INTEGER NOT NULL,
			claim_canonical TEXT NOT NULL,
			action_id INTEGER,
			tenure_id INTEGER,
			org_role_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS registrations (
			id ` + serial + `,
			did TEXT NOT NULL UNIQUE,
			registered_by TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			max_claims_per_week INTEGER,
			max_regs_per_month INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS network (
			observer TEXT NOT NULL,
			observed TEXT NOT NULL,
			PRIMARY KEY (observer, observed)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_envelopes_issuer_time ON envelopes (issuer, issued_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_natural ON events (org_name, name, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_agent_event ON actions (agent_did, event_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres. No-op for sqlite.
func (s *SQL) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insert executes an INSERT and returns the generated row id, using
// RETURNING on postgres and LastInsertId on sqlite.
func (s *SQL) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.dialect == dialectPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
