package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rsvp/internal/interval"
	"rsvp/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// Store is the durable reservation table plus its append-only change log.
// Every mutation writes the row and its change entry in one transaction;
// the in-memory interval index enforces the exclusion invariant under a
// per-resource lock and is rebuilt from active rows at open.
type Store struct {
	*sql.DB
	index    *interval.Index
	locks    *resourceLocks
	lockWait time.Duration
	logger   *zerolog.Logger
	path     string
}

func New(path string, lockWait time.Duration, logger *zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Каждое соединение пула получило бы свою пустую базу.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}

	s := &Store{
		DB:       db,
		index:    interval.NewIndex(),
		locks:    newResourceLocks(),
		lockWait: lockWait,
		logger:   logger,
		path:     path,
	}

	if err := s.rebuildIndex(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to rebuild interval index: %w", err)
	}

	logger.Info().Str("path", path).Msg("reservation store initialized")
	return s, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL,
            resource_id TEXT NOT NULL,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            note TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reservation_changes (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            reservation_id INTEGER NOT NULL,
            operation TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_resource ON reservations(resource_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// rebuildIndex loads every active window into the interval index.
// All persisted statuses occupy their windows, so no status filter here.
func (s *Store) rebuildIndex(ctx context.Context) error {
	rows, err := s.QueryContext(ctx, `SELECT id, resource_id, start_at, end_at FROM reservations ORDER BY resource_id`)
	if err != nil {
		return fmt.Errorf("failed to load active windows: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]interval.Entry)
	for rows.Next() {
		var (
			id             int64
			resourceID     string
			startNs, endNs int64
		)
		if err := rows.Scan(&id, &resourceID, &startNs, &endNs); err != nil {
			return fmt.Errorf("failed to scan window: %w", err)
		}
		entries[resourceID] = append(entries[resourceID], interval.Entry{
			ID:     id,
			Window: interval.Window{Start: time.Unix(0, startNs).UTC(), End: time.Unix(0, endNs).UTC()},
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for resourceID, list := range entries {
		s.index.Load(resourceID, list)
	}
	return nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Path returns the database file path (":memory:" for transient stores).
func (s *Store) Path() string {
	return s.path
}

const reservationColumns = `id, user_id, resource_id, start_at, end_at, status, note, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r              models.Reservation
		startNs, endNs int64
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.ResourceID, &startNs, &endNs,
		&r.Status, &r.Note, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Start = time.Unix(0, startNs).UTC()
	r.End = time.Unix(0, endNs).UTC()
	return &r, nil
}
