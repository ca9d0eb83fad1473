package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthDisabledWhenNoHashesConfigured(t *testing.T) {
	called := false
	handler := TokenAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through when auth disabled, called=%v code=%d", called, rec.Code)
	}
}

func TestTokenAuthRejectsMissingToken(t *testing.T) {
	handler := TokenAuth([]string{"deadbeef"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTokenAuthAcceptsMatchingDigest(t *testing.T) {
	raw := "prov_pat_secret123"
	sum := sha256.Sum256([]byte(raw))
	digest := hex.EncodeToString(sum[:])

	called := false
	handler := TokenAuth([]string{digest})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected matching token to pass, called=%v code=%d", called, rec.Code)
	}
}

func TestTokenAuthRejectsWrongToken(t *testing.T) {
	sum := sha256.Sum256([]byte("correct-token"))
	digest := hex.EncodeToString(sum[:])

	handler := TokenAuth([]string{digest})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run with a wrong token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
