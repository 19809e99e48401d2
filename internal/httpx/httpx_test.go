package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatroom/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrMalformedCredential, http.StatusUnauthorized},
		{fmt.Errorf("admit: %w", domain.ErrRevokedCredential), http.StatusUnauthorized},
		{domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{domain.ErrUsernameTaken, http.StatusConflict},
		{fmt.Errorf("%w: timeout", domain.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{BadRequest("username required"), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := Classify(tc.err); got != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.status, got)
		}
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatal("expected no token")
	}
	r.Header.Set("Authorization", "bearer abc.def.ghi")
	tok, ok := BearerToken(r)
	if !ok || tok != "abc.def.ghi" {
		t.Fatalf("got %q %v", tok, ok)
	}
	r.Header.Set("Authorization", "Basic Zm9v")
	if _, ok := BearerToken(r); ok {
		t.Fatal("basic auth must not yield a bearer token")
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Username string `json:"username"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"a","extra":1}`))
	err := DecodeJSON(httptest.NewRecorder(), r, &dst)
	if status, _ := Classify(err); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", status, err)
	}
}
