// Package server exposes the conversion pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geoforge/tilesmith/internal/history"
	"github.com/geoforge/tilesmith/internal/intake"
	"github.com/geoforge/tilesmith/internal/job"
	"github.com/geoforge/tilesmith/internal/platform/config"
	apperrors "github.com/geoforge/tilesmith/internal/platform/errors"
	"github.com/geoforge/tilesmith/internal/publish"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	multipartMemory   = 32 << 20
)

// Runner executes conversion and promotion jobs.
type Runner interface {
	Run(ctx context.Context, params job.Params, archivePath string, downloadTo io.Writer) (job.Result, error)
	PushToProduction(ctx context.Context, srcTileset, dstTileset string, mode publish.UpdateMode, token string) (job.Result, error)
}

// History lists recorded publications.
type History interface {
	List(ctx context.Context, tilesetID string, limit int) ([]history.Publication, error)
}

// Server is the HTTP front end.
type Server struct {
	httpAddr   string
	httpServer *http.Server

	runner  Runner
	records History
	cfg     config.Config
}

// New wires the HTTP server. records may be nil when history storage is
// disabled.
func New(cfg config.Config, runner Runner, records History) *Server {
	s := &Server{
		httpAddr: cfg.HTTPAddr,
		runner:   runner,
		records:  records,
		cfg:      cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /api/push-to-production", s.handlePush)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serveErr := make(chan error, 1)
	log.Printf("listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// handleUpload accepts a ZIP of feature files, runs the conversion, and
// either streams the assembled package back or publishes it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSONError(w, apperrors.New(apperrors.CodeArchiveInvalid, "could not parse multipart upload"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, apperrors.New(apperrors.CodeArchiveInvalid, "missing file field"))
		return
	}
	defer file.Close()
	if err := intake.ValidateName(header.Filename); err != nil {
		writeJSONError(w, err)
		return
	}

	outputMode := r.FormValue("output_mode")
	if outputMode == "" {
		outputMode = string(job.OutputDownload)
	}
	mode, err := job.ParseOutputMode(outputMode)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	updateMode := r.FormValue("update_mode")
	if updateMode == "" {
		updateMode = string(publish.ModeReplace)
	}
	update, err := publish.ParseUpdateMode(updateMode)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	params := job.Params{
		OutputMode: mode,
		TilesetID:  r.FormValue("tileset_id"),
		UpdateMode: update,
		Token:      s.token(r.FormValue("token")),
	}

	archive, err := saveUpload(file)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	defer os.Remove(archive)

	if mode == job.OutputDownload {
		out := &attachmentWriter{w: w}
		if _, err := s.runner.Run(r.Context(), params, archive, out); err != nil {
			if out.started {
				// Headers are gone; all we can do is drop the connection.
				log.Printf("streaming assembled package: %v", err)
				return
			}
			writeJSONError(w, err)
		}
		return
	}

	result, err := s.runner.Run(r.Context(), params, archive, nil)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type pushRequest struct {
	SourceTileset      string `json:"source_tileset"`
	DestinationTileset string `json:"destination_tileset"`
	UpdateMode         string `json:"update_mode"`
	Token              string `json:"token"`
}

// handlePush promotes the retained package of one tileset to another.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, apperrors.New(apperrors.CodeParamsInvalid, "invalid JSON body"))
		return
	}
	if req.SourceTileset == "" {
		req.SourceTileset = s.cfg.DefaultStagingTileset
	}
	if req.DestinationTileset == "" {
		req.DestinationTileset = s.cfg.DefaultProductionTileset
	}
	if req.UpdateMode == "" {
		req.UpdateMode = string(publish.ModeReplace)
	}
	mode, err := publish.ParseUpdateMode(req.UpdateMode)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	result, err := s.runner.PushToProduction(r.Context(), req.SourceTileset, req.DestinationTileset, mode, s.token(req.Token))
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type historyResponse struct {
	Publications []publicationJSON `json:"publications"`
}

type publicationJSON struct {
	ID           string    `json:"id"`
	TilesetID    string    `json:"tileset_id"`
	Mode         string    `json:"update_mode"`
	NewTileset   bool      `json:"new_tileset"`
	Layers       []string  `json:"layers,omitempty"`
	Groups       []string  `json:"groups,omitempty"`
	PackageBytes int64     `json:"package_bytes"`
	PublishedAt  time.Time `json:"published_at"`
}

// handleHistory lists recent publications, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeJSON(w, http.StatusOK, historyResponse{Publications: []publicationJSON{}})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, apperrors.New(apperrors.CodeParamsInvalid, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	pubs, err := s.records.List(r.Context(), r.URL.Query().Get("tileset_id"), limit)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	resp := historyResponse{Publications: make([]publicationJSON, 0, len(pubs))}
	for _, pub := range pubs {
		resp.Publications = append(resp.Publications, publicationJSON{
			ID:           pub.ID,
			TilesetID:    pub.TilesetID,
			Mode:         pub.Mode,
			NewTileset:   pub.NewTileset,
			Layers:       pub.Layers,
			Groups:       pub.Groups,
			PackageBytes: pub.PackageBytes,
			PublishedAt:  pub.PublishedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// token applies the configured fallback credential.
func (s *Server) token(supplied string) string {
	if strings.TrimSpace(supplied) != "" {
		return supplied
	}
	return s.cfg.RemoteToken
}

// saveUpload spools the uploaded archive to a temporary file.
func saveUpload(file io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "tilesmith-upload-*.zip")
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "create upload spool file", err)
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", apperrors.Wrap(apperrors.CodeArchiveInvalid, "read uploaded archive", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", apperrors.Wrap(apperrors.CodeUnknown, "flush upload spool file", err)
	}
	return tmp.Name(), nil
}

// attachmentWriter defers the download headers until the first byte of the
// package is ready, so earlier failures can still report JSON errors.
type attachmentWriter struct {
	w       http.ResponseWriter
	started bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", "application/octet-stream")
		a.w.Header().Set("Content-Disposition", `attachment; filename="output.mbtiles"`)
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSONError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.HTTPStatus(err), errorResponse{
		Error:   string(apperrors.CodeOf(err)),
		Message: err.Error(),
		Details: apperrors.Details(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
