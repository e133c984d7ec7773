// Package pg implements the ledger, audit and incident stores on PostgreSQL
// through database/sql and the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"relief.org/internal/ids"
)

// DefaultLockTimeout bounds how long Reserve waits for a contended row.
const DefaultLockTimeout = 3 * time.Second

// Options tunes a Store.
type Options struct {
	LockTimeout  time.Duration
	MaxOpenConns int
	IDs          ids.Generator
	Now          func() time.Time
}

// Store owns the connection pool. Ledger, Audit and Incidents return views
// implementing the corresponding domain interfaces.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	ids         ids.Generator
	now         func() time.Time
}

// Open connects with tuned pool defaults.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts), nil
}

// New wraps an existing pool.
func New(db *sql.DB, opts Options) *Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.IDs == nil {
		opts.IDs = ids.ULID{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{db: db, lockTimeout: opts.LockTimeout, ids: opts.IDs, now: opts.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Ledger() *LedgerStore { return &LedgerStore{s: s} }

func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

func (s *Store) Incidents() *IncidentStore { return &IncidentStore{s: s} }
