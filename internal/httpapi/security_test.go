package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"muscleup/backend/internal/domain"
)

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	want := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for header, expected := range want {
		if got := res.Header().Get(header); got != expected {
			t.Errorf("header %s: expected %q, got %q", header, expected, got)
		}
	}
	if res.Header().Get("Referrer-Policy") == "" {
		t.Errorf("expected Referrer-Policy to be set")
	}
}

func TestLoginAttemptsThrottledPerClient(t *testing.T) {
	api := newTestAPI(t)

	// Five failed attempts from one terminal get 401; the sixth trips the
	// limiter.
	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:44210"
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		codes = append(codes, res.Code)
	}

	for i, code := range codes[:5] {
		if code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, code)
		}
	}
	if codes[5] != http.StatusTooManyRequests {
		t.Fatalf("attempt 6: expected 429, got %d", codes[5])
	}
}

func TestOversizedJSONBodyRejected(t *testing.T) {
	api := newTestAPI(t)

	padding := strings.Repeat("x", (1<<20)+512)
	body := fmt.Sprintf(`{"username":%q,"password":"x"}`, padding)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", res.Code)
	}
}

func TestMutatingRequestWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	body, _ := json.Marshal(domain.CouponValidateRequest{Code: "BIENVENIDO10", Subtotal: 500})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", res.Code)
	}
}

func TestCancelOverridePINThrottled(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)
	csrf := fetchCSRFToken(t, api)

	// Cancelling as a cashier requires the manager PIN; guessing it is
	// capped at eight attempts per minute per client.
	for attempt := 1; attempt <= 9; attempt++ {
		body, _ := json.Marshal(domain.CancelSaleRequest{Reason: "prueba", ManagerPIN: "000000"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/sale-inexistente/cancel", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.RemoteAddr = "203.0.113.9:44211"
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)

		switch {
		case attempt <= 8 && res.Code != http.StatusForbidden:
			t.Fatalf("attempt %d: expected 403, got %d", attempt, res.Code)
		case attempt == 9 && res.Code != http.StatusTooManyRequests:
			t.Fatalf("attempt 9: expected 429, got %d", res.Code)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"9999", 200},
		{"", 50},
		{"invalid", 50},
		{"25", 25},
	}
	for _, tc := range cases {
		if got := parsePositiveLimit(tc.raw, 50, 200); got != tc.want {
			t.Errorf("parsePositiveLimit(%q): expected %d, got %d", tc.raw, tc.want, got)
		}
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}

	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return payload["csrf_token"]
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "admin", "admin123")
}

func loginAsCashier(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "cashier", "cashier123")
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
