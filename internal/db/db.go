// Package db persists campaign state in SQL and coordinates campaign runs
// through Redis.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	writeRetryAttempts       = 5
	writeRetryInitialBackoff = 50 * time.Millisecond
	writeRetryMaxBackoff     = time.Second
	sqliteBusyCode           = 5
)

// Options configures the SQL connection.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// schemaSQL is portable between Postgres and SQLite. Times are unix seconds.
const schemaSQL = `CREATE TABLE IF NOT EXISTS cabinets (
    account_id BIGINT NOT NULL,
    client_id BIGINT NOT NULL DEFAULT 0,
    kind TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (account_id, client_id)
);

CREATE TABLE IF NOT EXISTS campaigns (
    campaign_key TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    account_id BIGINT NOT NULL,
    client_id BIGINT NOT NULL DEFAULT 0,
    remote_id BIGINT NOT NULL DEFAULT 0,
    phase TEXT NOT NULL,
    schedule_start BIGINT NOT NULL DEFAULT 0,
    schedule_end BIGINT NOT NULL DEFAULT 0,
    audiences TEXT NOT NULL DEFAULT '[]',
    playlists TEXT NOT NULL DEFAULT '[]',
    moderation_started_at BIGINT NOT NULL DEFAULT 0,
    target_cost DOUBLE PRECISION NULL,
    stop_cost DOUBLE PRECISION NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_ads (
    ad_id BIGINT PRIMARY KEY,
    campaign_key TEXT NOT NULL REFERENCES campaigns(campaign_key) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    playlist_url TEXT NOT NULL DEFAULT '',
    post_url TEXT NOT NULL DEFAULT '',
    tested BOOLEAN NOT NULL DEFAULT FALSE,
    stopped BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_campaign_ads_campaign ON campaign_ads (campaign_key);
CREATE INDEX IF NOT EXISTS idx_campaigns_account ON campaigns (account_id);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Repository is the durable campaign store.
type Repository struct {
	DB     *sql.DB
	driver string
}

// Open connects to the configured database, applies pool settings and
// creates the schema.
func Open(ctx context.Context, opts Options) (*Repository, error) {
	system := "postgresql"
	switch opts.Driver {
	case DriverPostgres:
	case DriverSQLite:
		system = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := otelsql.Open(opts.Driver, opts.DSN, otelsql.WithAttributes(
		attribute.String("db.system", system),
	))
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", opts.Driver, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", opts.Driver, err)
	}
	if opts.Driver == DriverSQLite {
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}

	r := &Repository{DB: db, driver: opts.Driver}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	zap.L().Info("Connected to campaign database",
		zap.String("driver", opts.Driver),
		zap.Int("max_open_conns", opts.MaxOpenConns),
		zap.Duration("conn_max_lifetime", opts.ConnMaxLifetime))
	return r, nil
}

// Close terminates the database connection.
func (r *Repository) Close() {
	if r != nil && r.DB != nil {
		if err := r.DB.Close(); err != nil {
			zap.L().Error("database close", zap.Error(err))
		}
	}
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// retryable reports write conflicts that succeed when replayed: SQLite lock
// contention and Postgres serialization failures or deadlocks.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "40"
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryWrite replays op on lock contention with exponential backoff.
func retryWrite(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = writeRetryInitialBackoff
	b.MaxInterval = writeRetryMaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(writeRetryAttempts))
	return err
}
