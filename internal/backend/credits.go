// Package backend is the client for the application backend's credit and
// profile endpoints. Right after a backend restart these endpoints may
// briefly report zero balances for an authenticated user; callers treat
// the values as best-effort signals, never hard truth.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// TokenSource supplies the bearer token for backend requests.
type TokenSource interface {
	Token() (string, bool)
}

// Client implements the credit/profile API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// NewClient builds a client against the backend base URL.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Balance fetches the current credit balance for the signed-in user.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	token, ok := c.tokens.Token()
	if !ok {
		return 0, session.NewError(session.CodeAuthUnavailable, "no token for balance request", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/credits", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, session.NewError(session.CodeBackendUnavailable, "fetch balance", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, session.NewError(session.CodeBackendUnavailable,
			fmt.Sprintf("fetch balance: HTTP %d", resp.StatusCode), nil)
	}

	var body struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, session.NewError(session.CodeBackendUnavailable, "decode balance response", err)
	}
	return body.Balance, nil
}

// Verify asks the backend whether the token maps to a known user.
func (c *Client) Verify(ctx context.Context, token string) (session.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/me", nil)
	if err != nil {
		return session.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return session.Identity{}, session.NewError(session.CodeBackendUnavailable, "verify with backend", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return session.Identity{Valid: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return session.Identity{}, session.NewError(session.CodeBackendUnavailable,
			fmt.Sprintf("verify with backend: HTTP %d", resp.StatusCode), nil)
	}

	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session.Identity{}, session.NewError(session.CodeBackendUnavailable, "decode profile response", err)
	}
	return session.Identity{UserID: body.ID, Email: body.Email, Valid: body.ID != ""}, nil
}
