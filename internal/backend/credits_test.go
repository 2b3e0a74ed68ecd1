package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

type staticTokens struct {
	token string
}

func (s staticTokens) Token() (string, bool) { return s.token, s.token != "" }

func TestBalanceSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q; want Bearer tok", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balance":17}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{token: "tok"})
	bal, err := c.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() = %v; want nil", err)
	}
	if bal != 17 {
		t.Errorf("Balance() = %d; want 17", bal)
	}
}

func TestBalanceWithoutTokenFails(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", staticTokens{})
	_, err := c.Balance(context.Background())
	var coded *session.CodedError
	if !errors.As(err, &coded) || coded.Code != session.CodeAuthUnavailable {
		t.Fatalf("Balance() = %v; want %s", err, session.CodeAuthUnavailable)
	}
}

func TestBalanceServerErrorIsBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{token: "tok"})
	_, err := c.Balance(context.Background())
	var coded *session.CodedError
	if !errors.As(err, &coded) || coded.Code != session.CodeBackendUnavailable {
		t.Fatalf("Balance() = %v; want %s", err, session.CodeBackendUnavailable)
	}
}

func TestVerifyRejectedTokenIsInvalidNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{})
	id, err := c.Verify(context.Background(), "bad")
	if err != nil {
		t.Fatalf("Verify() = %v; want nil", err)
	}
	if id.Valid {
		t.Error("identity.Valid = true for rejected token")
	}
}
