package twitchapi

import (
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// Endpoint is the Twitch OAuth endpoint pair.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://id.twitch.tv/oauth2/authorize",
	TokenURL: "https://id.twitch.tv/oauth2/token",
}

var (
	// ErrAccessDenied is returned when the user declines the consent screen.
	ErrAccessDenied = errors.New("twitch: authorization denied by user")
	// ErrStateMismatch means the redirect does not belong to this authorization.
	ErrStateMismatch = errors.New("twitch: oauth state mismatch")
)

// ImplicitAuthorizeURL constructs the authorization URL for the implicit grant
// (response_type=token): Twitch redirects back with the access token in the fragment.
func ImplicitAuthorizeURL(clientID, redirectURL string, scopes []string, state string) (string, error) {
	if clientID == "" || redirectURL == "" {
		return "", errors.New("missing clientID or redirectURL")
	}
	cfg := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Scopes:      scopes,
		Endpoint:    Endpoint,
	}
	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "token"),
		oauth2.SetAuthURLParam("force_verify", "true"),
	), nil
}

// ParseImplicitResult extracts the access token from the redirect parameters
// (the fragment, once moved into a query) after checking state.
func ParseImplicitResult(v url.Values, wantState string) (string, error) {
	if e := v.Get("error"); e != "" {
		if e == "access_denied" {
			return "", ErrAccessDenied
		}
		return "", fmt.Errorf("twitch authorization error: %s: %s", e, v.Get("error_description"))
	}
	if wantState != "" && v.Get("state") != wantState {
		return "", ErrStateMismatch
	}
	tok := v.Get("access_token")
	if tok == "" {
		return "", errors.New("missing access_token")
	}
	return tok, nil
}
