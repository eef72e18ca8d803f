// Package ledger stores balances and location samples in SQLite. It serves
// as the authoritative store when the daemon runs without a hosted backend.
package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vadiminshakov/captur/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	token_balance TEXT NOT NULL DEFAULT '0',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	captured_at DATETIME NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_locations_user ON locations(user_id, captured_at);
`

// SQLiteLedger implements the ledger on a local SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens the database at path and creates the schema.
// Use ":memory:" for a throwaway ledger.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create ledger directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger database")
	}
	// one writer at a time; also keeps a ":memory:" database on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init ledger schema")
	}

	return &SQLiteLedger{db: db}, nil
}

// GetBalance returns the stored balance or domain.ErrNotFound.
func (l *SQLiteLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := l.db.QueryRowContext(ctx, `SELECT token_balance FROM profiles WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "query balance for %s", userID)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "decode balance %q", raw)
	}

	return balance, nil
}

// SetBalance overwrites the user's balance, creating the profile row if needed.
func (l *SQLiteLedger) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO profiles (id, token_balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token_balance = excluded.token_balance, updated_at = excluded.updated_at`,
		userID, balance.StringFixed(domain.BalancePlaces), time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "update balance for %s", userID)
	}

	return nil
}

// InsertSample appends a location sample.
func (l *SQLiteLedger) InsertSample(ctx context.Context, sample domain.PositionSample) error {
	if sample.UserID == "" {
		return errors.New("sample user id is required")
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO locations (id, user_id, latitude, longitude, captured_at) VALUES (?, ?, ?, ?, ?)`,
		sample.ID, sample.UserID, sample.Latitude, sample.Longitude, sample.CapturedAt.UTC())
	if err != nil {
		return errors.Wrapf(err, "insert location sample %s", sample.ID)
	}

	return nil
}

// recentSamples returns up to limit samples for the user, newest first.
func (l *SQLiteLedger) recentSamples(ctx context.Context, userID string, limit int) ([]domain.PositionSample, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, latitude, longitude, captured_at FROM locations
		WHERE user_id = ? ORDER BY captured_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query location samples")
	}
	defer rows.Close()

	var samples []domain.PositionSample
	for rows.Next() {
		var s domain.PositionSample
		if err := rows.Scan(&s.ID, &s.UserID, &s.Latitude, &s.Longitude, &s.CapturedAt); err != nil {
			return nil, errors.Wrap(err, "scan location sample")
		}
		samples = append(samples, s)
	}

	return samples, errors.Wrap(rows.Err(), "iterate location samples")
}

// sampleCount returns the number of samples stored for the user.
func (l *SQLiteLedger) sampleCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count location samples")
	}
	return n, nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
