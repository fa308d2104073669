// Package history records published packages in SQLite so operators can
// audit what was pushed to each tileset and when.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/geoforge/tilesmith/internal/history/migrations"
	"github.com/geoforge/tilesmith/internal/platform/storage/sqlitemigrate"
)

// Publication is one recorded publish event.
type Publication struct {
	ID           string
	TilesetID    string
	Mode         string
	NewTileset   bool
	Layers       []string
	Groups       []string
	PackageBytes int64
	PublishedAt  time.Time
}

// Store persists publish history in SQLite.
type Store struct {
	sqlDB *sql.DB

	clock func() time.Time
}

// Open opens a SQLite history store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record inserts one publish event. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, pub Publication) (Publication, error) {
	if err := ctx.Err(); err != nil {
		return Publication{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Publication{}, fmt.Errorf("storage is not configured")
	}
	tilesetID := strings.TrimSpace(pub.TilesetID)
	if tilesetID == "" {
		return Publication{}, fmt.Errorf("tileset id is required")
	}
	if strings.TrimSpace(pub.ID) == "" {
		pub.ID = uuid.NewString()
	}
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = s.clock().UTC()
	}
	pub.TilesetID = tilesetID

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO publications (id, tileset_id, mode, new_tileset, layers, groups_refreshed, package_bytes, published_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pub.ID,
		pub.TilesetID,
		pub.Mode,
		boolToInt(pub.NewTileset),
		strings.Join(pub.Layers, ","),
		strings.Join(pub.Groups, ","),
		pub.PackageBytes,
		pub.PublishedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return Publication{}, fmt.Errorf("insert publication: %w", err)
	}
	return pub, nil
}

// List returns the most recent publications, newest first. A non-empty
// tilesetID restricts the result to that tileset.
func (s *Store) List(ctx context.Context, tilesetID string, limit int) ([]Publication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, tileset_id, mode, new_tileset, layers, groups_refreshed, package_bytes, published_at
FROM publications`
	args := []any{}
	if strings.TrimSpace(tilesetID) != "" {
		query += " WHERE tileset_id = ?"
		args = append(args, strings.TrimSpace(tilesetID))
	}
	query += " ORDER BY published_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query publications: %w", err)
	}
	defer rows.Close()

	var pubs []Publication
	for rows.Next() {
		var (
			pub        Publication
			newTileset int
			layers     string
			groups     string
			published  int64
		)
		if err := rows.Scan(&pub.ID, &pub.TilesetID, &pub.Mode, &newTileset, &layers, &groups, &pub.PackageBytes, &published); err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		pub.NewTileset = newTileset != 0
		pub.Layers = splitList(layers)
		pub.Groups = splitList(groups)
		pub.PublishedAt = time.UnixMilli(published).UTC()
		pubs = append(pubs, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate publications: %w", err)
	}
	return pubs, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}
