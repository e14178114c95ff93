package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	mysqlDeadlockCode       = 1213
	mysqlLockWaitCode       = 1205
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// sqlDialect captures the statements that differ between SQLite and MySQL.
type sqlDialect struct {
	name   string
	schema string
	upsert string
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: `CREATE TABLE IF NOT EXISTS queue_snapshot (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    document TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
	upsert: `INSERT INTO queue_snapshot (id, document, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
}

var mysqlDialect = sqlDialect{
	name: "mysql",
	schema: `CREATE TABLE IF NOT EXISTS queue_snapshot (
    id TINYINT PRIMARY KEY,
    document LONGTEXT NOT NULL,
    updated_at VARCHAR(40) NOT NULL
) DEFAULT CHARSET=utf8mb4`,
	upsert: `INSERT INTO queue_snapshot (id, document, updated_at) VALUES (1, ?, ?)
ON DUPLICATE KEY UPDATE document = VALUES(document), updated_at = VALUES(updated_at)`,
}

// SQLPersister stores the snapshot document in a single-row table.
type SQLPersister struct {
	db      *sql.DB
	dialect sqlDialect
	target  string
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLPersister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return newSQLPersister(ctx, db, sqliteDialect, path)
}

// OpenMySQL connects to a MySQL server using a go-sql-driver DSN.
func OpenMySQL(ctx context.Context, dsn string) (*SQLPersister, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return newSQLPersister(ctx, db, mysqlDialect, parsed.Addr+"/"+parsed.DBName)
}

func newSQLPersister(ctx context.Context, db *sql.DB, dialect sqlDialect, target string) (*SQLPersister, error) {
	p := &SQLPersister{db: db, dialect: dialect, target: target}
	if err := retryOnBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, dialect.schema)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init %s schema: %w", dialect.name, err)
	}
	return p, nil
}

// Load reads the snapshot row. A missing row yields an empty snapshot.
func (p *SQLPersister) Load(ctx context.Context) (Snapshot, error) {
	var document string
	err := retryOnBusy(ctx, func() error {
		return p.db.QueryRowContext(ctx, `SELECT document FROM queue_snapshot WHERE id = 1`).Scan(&document)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s snapshot: %w", p.dialect.name, err)
	}
	return decodeSnapshot([]byte(document))
}

// Save upserts the snapshot row.
func (p *SQLPersister) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := retryOnBusy(ctx, func() error {
		_, execErr := p.db.ExecContext(ctx, p.dialect.upsert, string(data), stamp)
		return execErr
	}); err != nil {
		return fmt.Errorf("save %s snapshot: %w", p.dialect.name, err)
	}
	return nil
}

// Describe identifies the persister in logs.
func (p *SQLPersister) Describe() string { return p.dialect.name + ":" + p.target }

// Close closes the underlying database connection.
func (p *SQLPersister) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlDeadlockCode || myErr.Number == mysqlLockWaitCode) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
