package authapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

type memTokens struct {
	token string
}

func (m *memTokens) Token() (string, bool)     { return m.token, m.token != "" }
func (m *memTokens) WriteToken(t string) error { m.token = t; return nil }
func (m *memTokens) ClearToken() error         { m.token = ""; return nil }

func TestSignOutClearsTokenAndFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("path = %q; want /auth/v1/logout", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q; want Bearer tok-1", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tokens := &memTokens{token: "tok-1"}
	c := NewClient(srv.URL, tokens)
	c.setAuthenticated(true)

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() = %v; want nil", err)
	}
	if c.Authenticated() {
		t.Error("Authenticated() = true after sign out")
	}
	if _, ok := tokens.Token(); ok {
		t.Error("token survived sign out")
	}
}

func TestSignOutWithoutTokenIsLocalOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider called despite missing token")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &memTokens{})
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() = %v; want nil", err)
	}
}

func TestRefreshTokenPersistsNewToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q; want refresh_token", r.URL.Query().Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-2"}`))
	}))
	defer srv.Close()

	tokens := &memTokens{token: "tok-1"}
	c := NewClient(srv.URL, tokens)

	if err := c.RefreshToken(context.Background()); err != nil {
		t.Fatalf("RefreshToken() = %v; want nil", err)
	}
	if got, _ := tokens.Token(); got != "tok-2" {
		t.Errorf("token = %q; want tok-2", got)
	}
	if !c.Authenticated() {
		t.Error("Authenticated() = false after refresh")
	}
}

func TestRefreshTokenWithoutTokenFails(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", &memTokens{})
	err := c.RefreshToken(context.Background())
	var coded *session.CodedError
	if !errors.As(err, &coded) || coded.Code != session.CodeAuthUnavailable {
		t.Fatalf("RefreshToken() = %v; want %s", err, session.CodeAuthUnavailable)
	}
}

func TestVerifyDistinguishesInvalidFromUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"u1","email":"u1@example.com"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &memTokens{})

	id, err := c.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("Verify(good) = %v; want nil", err)
	}
	if !id.Valid || id.UserID != "u1" {
		t.Errorf("identity = %+v; want valid u1", id)
	}

	id, err = c.Verify(context.Background(), "bad")
	if err != nil {
		t.Fatalf("Verify(bad) = %v; want nil (invalid, not unavailable)", err)
	}
	if id.Valid {
		t.Error("identity.Valid = true for rejected token")
	}
}
