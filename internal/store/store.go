// Package store keeps a local SQLite history of observed fixes and
// delivery attempts for the status API. It is advisory: a store failure is
// logged and never aborts a poll cycle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"waypointrelay/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fix_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial TEXT NOT NULL,
			name TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			fix_timestamp TEXT NOT NULL,
			horizontal_accuracy REAL NOT NULL,
			vertical_accuracy REAL NOT NULL,
			altitude REAL NOT NULL,
			observed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fix_history_serial_time ON fix_history(serial, observed_at);`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial TEXT NOT NULL,
			base_url TEXT NOT NULL,
			outcome TEXT NOT NULL,
			status_code INTEGER,
			points INTEGER NOT NULL,
			error TEXT,
			attempted_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_time ON delivery_attempts(attempted_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// InsertFix records one observed location change for a serial.
func (s *Store) InsertFix(ctx context.Context, serial, name string, p model.Point) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fix_history (serial, name, latitude, longitude, fix_timestamp, horizontal_accuracy, vertical_accuracy, altitude)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		serial,
		name,
		p.Latitude,
		p.Longitude,
		p.Timestamp,
		p.HorizontalAccuracy,
		p.VerticalAccuracy,
		p.Altitude,
	)
	if err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}

	return nil
}

// InsertDeliveryAttempt records the outcome of one flush.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	attemptedAt := a.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	var statusCode sql.NullInt64
	if a.StatusCode != 0 {
		statusCode = sql.NullInt64{Int64: int64(a.StatusCode), Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO delivery_attempts (serial, base_url, outcome, status_code, points, error, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		a.Serial,
		a.BaseURL,
		a.Outcome,
		statusCode,
		a.Points,
		a.Error,
		attemptedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// RecentDeliveryAttempts returns the newest attempts first.
func (s *Store) RecentDeliveryAttempts(ctx context.Context, limit int) ([]model.DeliveryAttempt, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT serial, base_url, outcome, status_code, points, error, attempted_at
		 FROM delivery_attempts
		 ORDER BY attempted_at DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]model.DeliveryAttempt, 0, limit)

	for rows.Next() {
		var (
			serial         string
			baseURL        string
			outcome        string
			statusCode     sql.NullInt64
			points         int
			errMsg         sql.NullString
			attemptedAtStr string
		)

		if err := rows.Scan(&serial, &baseURL, &outcome, &statusCode, &points, &errMsg, &attemptedAtStr); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}

		attemptedAt, err := time.Parse(time.RFC3339Nano, attemptedAtStr)
		if err != nil {
			attemptedAt, _ = time.Parse("2006-01-02T15:04:05Z07:00", attemptedAtStr)
		}

		attempts = append(attempts, model.DeliveryAttempt{
			Serial:      serial,
			BaseURL:     baseURL,
			Outcome:     outcome,
			StatusCode:  int(statusCode.Int64),
			Points:      points,
			Error:       errMsg.String,
			AttemptedAt: attemptedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery attempts: %w", err)
	}

	return attempts, nil
}

// RecentFixes returns the newest recorded fixes for a serial, or for every
// serial when serial is empty.
func (s *Store) RecentFixes(ctx context.Context, serial string, limit int) ([]model.Point, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT latitude, longitude, fix_timestamp, horizontal_accuracy, vertical_accuracy, altitude FROM fix_history`
	var args []interface{}
	if serial != "" {
		query += ` WHERE serial = ?`
		args = append(args, serial)
	}
	query += ` ORDER BY observed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query fix history: %w", err)
	}
	defer rows.Close()

	fixes := make([]model.Point, 0, limit)

	for rows.Next() {
		var p model.Point
		if err := rows.Scan(&p.Latitude, &p.Longitude, &p.Timestamp, &p.HorizontalAccuracy, &p.VerticalAccuracy, &p.Altitude); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		fixes = append(fixes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fix history: %w", err)
	}

	return fixes, nil
}
