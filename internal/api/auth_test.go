package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	if got := ValidateAPIKey("provided", "provided"); !got {
		t.Fatalf("expected true for matching keys")
	}
	if got := ValidateAPIKey("provided", "other"); got {
		t.Fatalf("expected false for mismatched keys")
	}
	if got := ValidateAPIKey("", "configured"); got {
		t.Fatalf("expected false for empty provided key")
	}
	if got := ValidateAPIKey("provided", ""); got {
		t.Fatalf("expected false for empty configured key")
	}
	if got := ValidateAPIKey("short", "muchlongerkey"); got {
		t.Fatalf("expected false for different-length keys")
	}
}

func TestAuthMiddlewareEnforced(t *testing.T) {
	t.Parallel()

	h := testServer(Config{APIKey: "secret"}, pdfConverter([]byte("%PDF-x")))

	post := func(key string) *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, "doc.docx", []byte("data"))
		req := httptest.NewRequest(http.MethodPost, "/convert", body)
		req.Header.Set("Content-Type", contentType)
		if key != "" {
			req.Header.Set(apiKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d, want 401", rec.Code)
	}
	if rec := post("wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", rec.Code)
	}
	if rec := post("secret"); rec.Code != http.StatusOK {
		t.Fatalf("valid key: status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	// The index page sits behind the same gate.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("index without key: status = %d, want 401", rec.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	t.Parallel()

	h := testServer(Config{}, pdfConverter([]byte("%PDF-x")))

	body, contentType := multipartBody(t, "doc.docx", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/convert", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("body does not start with PDF header")
	}
}
