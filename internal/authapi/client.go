// Package authapi talks to the identity provider: a small HTTP client for
// sign-out, token refresh, and verification, plus a websocket stream that
// delivers the provider's auth events.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_sentry/internal/session"
)

// TokenStore is the persisted bearer token slot the client reads and
// writes. The shared recovery keyspace satisfies this.
type TokenStore interface {
	Token() (string, bool)
	WriteToken(token string) error
	ClearToken() error
}

// Client is the identity provider's HTTP client. Its in-memory
// authenticated flag is fed by the event stream and may lag the persisted
// token; the health monitor reconciles the two.
type Client struct {
	baseURL string
	tokens  TokenStore
	http    *http.Client

	mu            sync.Mutex
	authenticated bool
}

// NewClient builds a client against the provider base URL.
func NewClient(baseURL string, tokens TokenStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Authenticated reports the in-memory auth state.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// SignOut revokes the current session with the provider and clears both
// the in-memory flag and the persisted token. A provider-side 401 is
// treated as already signed out, not an error.
func (c *Client) SignOut(ctx context.Context) error {
	token, ok := c.tokens.Token()
	if ok {
		resp, err := c.post(ctx, "/auth/v1/logout", token, nil)
		if err != nil {
			return session.NewError(session.CodeAuthUnavailable, "sign out", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK &&
			resp.StatusCode != http.StatusUnauthorized {
			return session.NewError(session.CodeAuthUnavailable,
				fmt.Sprintf("sign out: HTTP %d", resp.StatusCode), nil)
		}
	}
	c.setAuthenticated(false)
	if err := c.tokens.ClearToken(); err != nil {
		return session.NewError(session.CodeStoreFailure, "clear token after sign out", err)
	}
	return nil
}

// RefreshToken exchanges the current token for a fresh one and persists it.
func (c *Client) RefreshToken(ctx context.Context) error {
	token, ok := c.tokens.Token()
	if !ok {
		return session.NewError(session.CodeAuthUnavailable, "no token to refresh", nil)
	}

	resp, err := c.post(ctx, "/auth/v1/token?grant_type=refresh_token", token, nil)
	if err != nil {
		return session.NewError(session.CodeAuthUnavailable, "refresh token", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.NewError(session.CodeAuthUnavailable,
			fmt.Sprintf("refresh token: HTTP %d", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session.NewError(session.CodeAuthUnavailable, "decode refresh response", err)
	}
	if body.AccessToken == "" {
		return session.NewError(session.CodeAuthUnavailable, "refresh returned empty token", nil)
	}
	if err := c.tokens.WriteToken(body.AccessToken); err != nil {
		return session.NewError(session.CodeStoreFailure, "persist refreshed token", err)
	}
	c.setAuthenticated(true)
	return nil
}

// Verify asks the provider whether the given token identifies a user.
func (c *Client) Verify(ctx context.Context, token string) (session.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return session.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return session.Identity{}, session.NewError(session.CodeAuthUnavailable, "verify token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return session.Identity{Valid: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return session.Identity{}, session.NewError(session.CodeAuthUnavailable,
			fmt.Sprintf("verify token: HTTP %d", resp.StatusCode), nil)
	}

	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session.Identity{}, session.NewError(session.CodeAuthUnavailable, "decode user response", err)
	}
	return session.Identity{UserID: body.ID, Email: body.Email, Valid: body.ID != ""}, nil
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}
