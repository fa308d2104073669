// Package errors provides structured error handling with stable machine codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Archive intake errors
	CodeArchiveInvalid        Code = "ARCHIVE_INVALID"
	CodeArchiveNoFeatureFiles Code = "ARCHIVE_NO_FEATURE_FILES"

	// Request validation errors
	CodeParamsInvalid Code = "PARAMS_INVALID"

	// External tile tool errors
	CodeTileCompileFailed Code = "TILE_COMPILE_FAILED"
	CodeTileMergeFailed   Code = "TILE_MERGE_FAILED"

	// Remote tileset service errors
	CodeRemoteFetchFailed   Code = "REMOTE_FETCH_FAILED"
	CodeRemotePublishFailed Code = "REMOTE_PUBLISH_FAILED"

	// Append-mode reconciliation errors
	CodeReconcileFailed Code = "RECONCILE_FAILED"

	// Retention store errors
	CodeRetentionNotFound Code = "RETENTION_NOT_FOUND"
)

// HTTPStatus maps the code to the HTTP status reported to callers.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeArchiveInvalid, CodeArchiveNoFeatureFiles, CodeParamsInvalid:
		return http.StatusBadRequest
	case CodeRetentionNotFound:
		return http.StatusNotFound
	case CodeRemoteFetchFailed, CodeRemotePublishFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
