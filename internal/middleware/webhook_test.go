package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookHandler(secret string) http.Handler {
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := WebhookHMAC(secret, "X-Hub-Signature-256")(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
		if !called {
			w.Header().Set("X-Next-Called", "false")
		}
	})
}

func TestWebhookHMAC_ValidSignature(t *testing.T) {
	body := `{"event":"review-receive"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/1/review-receive", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cr3t", body))

	rec := httptest.NewRecorder()
	newWebhookHandler("s3cr3t").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestWebhookHMAC_InvalidSignature(t *testing.T) {
	body := `{"event":"review-receive"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/1/review-receive", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("wrong-secret", body))

	rec := httptest.NewRecorder()
	newWebhookHandler("s3cr3t").ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rec.Code)
	}
}

func TestWebhookHMAC_MissingSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/1/review-receive", strings.NewReader("{}"))

	rec := httptest.NewRecorder()
	newWebhookHandler("s3cr3t").ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestWebhookHMAC_NoSecretConfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/1/review-receive", strings.NewReader("{}"))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	rec := httptest.NewRecorder()
	newWebhookHandler("").ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", rec.Code)
	}
}
