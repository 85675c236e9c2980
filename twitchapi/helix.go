// Package twitchapi contains minimal helpers to interact with the Twitch Helix API
// and the Twitch OAuth endpoints: the identity probe used to validate a user token
// and the URL helpers for the implicit grant.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultHelixURL is the production Helix base URL.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// ErrUnauthorized is returned when Helix answers 401: the token is invalid or expired.
var ErrUnauthorized = errors.New("twitch: token rejected (401)")

// StatusError is any other non-2xx Helix answer.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("twitch helix request failed: %s", e.Status)
	}
	return fmt.Sprintf("twitch helix request failed: %s: %s", e.Status, e.Body)
}

// User is the subset of a Helix user object the viewer cares about.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixClient performs user-token authenticated Helix calls.
type HelixClient struct {
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultHelixURL
}

// GetAuthenticatedUser calls GET /users with no query, which Helix answers with the
// account that owns the bearer token. It is the identity probe: ErrUnauthorized on 401,
// *StatusError on any other failure status.
func (hc *HelixClient) GetAuthenticatedUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, fmt.Errorf("token empty")
	}
	// oauth2 adds "Authorization: Bearer <token>" on top of our base client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc.http())
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode helix users: %w", err)
	}
	if len(body.Data) != 1 {
		return nil, fmt.Errorf("helix users: expected exactly one user, got %d", len(body.Data))
	}
	return &body.Data[0], nil
}
