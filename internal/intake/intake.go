// Package intake validates and extracts uploaded GeoJSON archives.
package intake

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
)

const featureFileExt = ".geojson"

// allowedArchiveExts is the archive format allow-list for uploads.
var allowedArchiveExts = map[string]bool{".zip": true}

// ValidateName checks the uploaded filename against the archive allow-list.
func ValidateName(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedArchiveExts[ext] {
		return apperrors.New(apperrors.CodeArchiveInvalid, "invalid file type, expected a .zip archive")
	}
	return nil
}

// Extract unpacks the archive at archivePath into destDir.
//
// Entries escaping destDir are rejected, and a blob that cannot be opened as
// a zip archive fails with ARCHIVE_INVALID.
func Extract(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveInvalid, "invalid or corrupted zip archive", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return apperrors.New(apperrors.CodeArchiveInvalid, fmt.Sprintf("archive entry %q escapes the extraction directory", entry.Name))
	}

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", rel, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	src, err := entry.Open()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveInvalid, fmt.Sprintf("read archive entry %q", entry.Name), err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveInvalid, fmt.Sprintf("extract archive entry %q", entry.Name), err)
	}
	return nil
}

// ListFeatureFiles enumerates every GeoJSON file under root, recursively.
//
// Results are sorted lexicographically so discovery order is deterministic.
// Zero matches fail with ARCHIVE_NO_FEATURE_FILES.
func ListFeatureFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), featureFileExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan extracted archive: %w", err)
	}
	if len(files) == 0 {
		return nil, apperrors.New(apperrors.CodeArchiveNoFeatureFiles, "no .geojson files found in the archive")
	}
	sort.Strings(files)
	return files, nil
}
