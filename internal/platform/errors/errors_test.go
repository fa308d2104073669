package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeArchiveInvalid, "not a zip archive")
	if err.Error() != "not a zip archive" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(CodeTileCompileFailed, "tippecanoe failed", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in error chain")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeRetentionNotFound, "no retained package for acme.staging")
	if !stderrors.Is(err, New(CodeRetentionNotFound, "other message")) {
		t.Fatal("expected code match")
	}
	if stderrors.Is(err, New(CodeParamsInvalid, "no retained package for acme.staging")) {
		t.Fatal("expected code mismatch")
	}
}

func TestCodeOfTraversesChain(t *testing.T) {
	inner := New(CodeRemoteFetchFailed, "download failed")
	wrapped := fmt.Errorf("publish: %w", inner)
	if got := CodeOf(wrapped); got != CodeRemoteFetchFailed {
		t.Fatalf("expected REMOTE_FETCH_FAILED, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected UNKNOWN, got %s", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeArchiveInvalid, http.StatusBadRequest},
		{CodeArchiveNoFeatureFiles, http.StatusBadRequest},
		{CodeParamsInvalid, http.StatusBadRequest},
		{CodeRetentionNotFound, http.StatusNotFound},
		{CodeRemoteFetchFailed, http.StatusBadGateway},
		{CodeRemotePublishFailed, http.StatusBadGateway},
		{CodeTileCompileFailed, http.StatusInternalServerError},
		{CodeTileMergeFailed, http.StatusInternalServerError},
		{CodeReconcileFailed, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.code, tc.want, got)
		}
	}
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("expected 200 for nil error, got %d", got)
	}
}

func TestDetails(t *testing.T) {
	err := WithMetadata(CodeRemotePublishFailed, "remote rejected upload", map[string]string{
		"status_code": "503",
		"body":        "service unavailable",
	})
	wrapped := fmt.Errorf("job: %w", err)
	meta := Details(wrapped)
	if meta["status_code"] != "503" {
		t.Fatalf("expected metadata to survive wrapping, got %v", meta)
	}
	if Details(stderrors.New("plain")) != nil {
		t.Fatal("expected nil metadata for plain error")
	}
}
