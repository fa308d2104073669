// Package retention keeps the most recent published package per tileset so
// it can later be promoted to another tileset without a fresh upload.
package retention

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
)

// Store retains the latest package per tileset identifier.
type Store interface {
	// Save retains a copy of the package at srcPath for the tileset,
	// replacing any previously retained package.
	Save(ctx context.Context, tilesetID, srcPath string) error
	// Retrieve copies the retained package for the tileset to destPath.
	Retrieve(ctx context.Context, tilesetID, destPath string) error
	// Delete discards the retained package for the tileset, if any.
	Delete(ctx context.Context, tilesetID string) error
}

// FS is a filesystem-backed Store holding one file per tileset.
type FS struct {
	root string
}

// NewFS creates the store root if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "create retention root", err)
	}
	return &FS{root: root}, nil
}

// Save replaces the retained package for the tileset. The copy is written to
// a temporary file first and renamed into place, so a reader never observes
// a partially written package.
func (s *FS) Save(ctx context.Context, tilesetID, srcPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := s.path(tilesetID)

	src, err := os.Open(srcPath)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "open package for retention", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.root, "retain-*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "create retention temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CodeUnknown, "copy package into retention", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "flush retention temp file", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "replace retained package", err)
	}
	return nil
}

// Retrieve copies the retained package to destPath. A tileset that was never
// retained reports RETENTION_NOT_FOUND.
func (s *FS) Retrieve(ctx context.Context, tilesetID, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(s.path(tilesetID))
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.WrapWithMetadata(apperrors.CodeRetentionNotFound,
				"no retained package for tileset", map[string]string{"tileset_id": tilesetID}, err)
		}
		return apperrors.Wrap(apperrors.CodeUnknown, "open retained package", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "create retrieval destination", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "copy retained package", err)
	}
	return dest.Close()
}

// Delete removes the retained package. Deleting a tileset that was never
// retained is not an error.
func (s *FS) Delete(ctx context.Context, tilesetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(tilesetID)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.CodeUnknown, "delete retained package", err)
	}
	return nil
}

// path maps a tileset identifier to its retained file, flattening path
// separators so an identifier can never escape the store root.
func (s *FS) path(tilesetID string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(tilesetID)
	return filepath.Join(s.root, name+".mbtiles")
}
