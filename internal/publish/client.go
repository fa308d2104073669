// Package publish reconciles and uploads tile packages against the remote
// hosted tileset service.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
)

// ErrTilesetNotFound indicates the remote holds no package for the tileset.
var ErrTilesetNotFound = errors.New("tileset not found")

// RemoteAPI is the hosted tileset service surface the reconciler needs.
type RemoteAPI interface {
	// Upload creates or replaces the hosted tileset from the package file.
	Upload(ctx context.Context, token, tilesetID, packagePath string) error
	// Download fetches the currently hosted package into destPath. It
	// returns ErrTilesetNotFound when the tileset does not exist.
	Download(ctx context.Context, token, tilesetID, destPath string) error
}

// Client talks to the hosted tileset service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Package transfers are large; the generous timeout still bounds
		// a hung remote.
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
}

func (c *Client) packageURL(tilesetID string) string {
	return fmt.Sprintf("%s/v1/tilesets/%s/package", c.baseURL, url.PathEscape(tilesetID))
}

// Upload sends the package bytes, overwriting the hosted tileset. Any
// status other than 200 or 201 fails with the remote's status and body
// attached verbatim.
func (c *Client) Upload(ctx context.Context, token, tilesetID, packagePath string) error {
	f, err := os.Open(packagePath)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat package: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.packageURL(tilesetID), f)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-mbtiles")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemotePublishFailed, "upload to remote tileset service failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return apperrors.WithMetadata(apperrors.CodeRemotePublishFailed, "remote tileset service rejected the upload", map[string]string{
		"status_code": strconv.Itoa(resp.StatusCode),
		"body":        string(body),
	})
}

// Download fetches the hosted package into destPath. A 404 maps to
// ErrTilesetNotFound; any other non-200 status or network failure fails the
// fetch.
func (c *Client) Download(ctx context.Context, token, tilesetID, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.packageURL(tilesetID), nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteFetchFailed, "download from remote tileset service failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrTilesetNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return apperrors.WithMetadata(apperrors.CodeRemoteFetchFailed, "remote tileset service returned an error", map[string]string{
			"status_code": strconv.Itoa(resp.StatusCode),
			"body":        string(body),
		})
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return apperrors.Wrap(apperrors.CodeRemoteFetchFailed, "read remote package body", err)
	}
	return out.Close()
}

// BrowseURL returns the canonical studio URL for a tileset.
func BrowseURL(tilesetID string) string {
	return fmt.Sprintf("https://studio.mapbox.com/tilesets/%s/", tilesetID)
}
