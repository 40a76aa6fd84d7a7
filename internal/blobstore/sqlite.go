package blobstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (id, data, updated_at)
// 1 - Added writer column recording the device that stored the blob
const currentSchemaVersion = 1

// BlobInfo describes a stored blob without its contents.
type BlobInfo struct {
	ID        string
	Size      int
	Writer    string
	UpdatedAt time.Time
}

// SQLiteRemote is a Remote backed by a SQLite database file.
// It stands in for a cloud replica and is safe for concurrent use.
type SQLiteRemote struct {
	db     *sql.DB
	writer string
	now    func() time.Time
}

// SQLiteOption configures a SQLiteRemote.
type SQLiteOption func(*SQLiteRemote)

// WithWriter records writer as the author of every stored blob.
func WithWriter(writer string) SQLiteOption {
	return func(s *SQLiteRemote) {
		s.writer = writer
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) SQLiteOption {
	return func(s *SQLiteRemote) {
		s.now = now
	}
}

// OpenSQLite opens the replica database at path, creating it if needed.
// Opening an existing replica leaves its blobs untouched.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteRemote, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open replica %s: %w", path, err)
	}
	// One connection serialises Store and Remove across goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open replica %s: %w", path, err)
	}

	s := &SQLiteRemote{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// replicaPragmas are set on every open. WAL lets Stat read while a Store
// is in flight.
var replicaPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// prepare configures the connection and brings the blobs table up to
// currentSchemaVersion.
func prepare(db *sql.DB) error {
	for _, pragma := range replicaPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create blobs table: %w", err)
	}
	return runMigrations(db)
}

// Close closes the database connection.
func (s *SQLiteRemote) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the blob stored under id.
func (s *SQLiteRemote) Load(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return data, nil
}

// Store replaces the blob stored under id.
func (s *SQLiteRemote) Store(ctx context.Context, id string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, data, writer, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			writer = excluded.writer,
			updated_at = excluded.updated_at
	`, id, data, s.writer, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store %s: %w", id, err)
	}
	return nil
}

// Remove deletes the blob stored under id.
func (s *SQLiteRemote) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Stat returns metadata about the blob stored under id.
func (s *SQLiteRemote) Stat(ctx context.Context, id string) (BlobInfo, error) {
	var (
		info    = BlobInfo{ID: id}
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT length(data), writer, updated_at FROM blobs WHERE id = ?
	`, id).Scan(&info.Size, &info.Writer, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return BlobInfo{}, fmt.Errorf("stat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return BlobInfo{}, fmt.Errorf("stat %s: %w", id, err)
	}
	info.UpdatedAt = time.UnixMilli(updated).UTC()
	return info, nil
}

// runMigrations upgrades a replica written by an older release and records
// the new version in user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the writer column to databases created before v1.
// New databases get it from schema.sql.
func migrateToV1(db *sql.DB) error {
	has, err := hasColumn(db, "blobs", "writer")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE blobs ADD COLUMN writer TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, ctyp string
			notNull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctyp, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// pragma reads the current value of a pragma.
func (s *SQLiteRemote) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("pragma %s: %w", name, err)
	}
	return value, nil
}
