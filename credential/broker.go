// Package credential decides whether the cached Twitch token is usable and,
// when it is not, drives one interactive re-authorization and persists the result.
//
// Helix 401 is the only "invalid token" signal. Any other failure of the
// identity probe is a hard error, so a Twitch outage is never mistaken for an
// expired token. The broker retries exactly once: re-authorize, persist,
// re-probe. A second rejection is fatal.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/twitch-viewer/oauth"
	"github.com/onnwee/twitch-viewer/telemetry"
	"github.com/onnwee/twitch-viewer/twitchapi"
)

var (
	// ErrCredentialUnavailable means no token could be obtained: the cache was
	// empty and authorization was declined or returned nothing.
	ErrCredentialUnavailable = errors.New("credential unavailable")
	// ErrAuthorizationTimedOut means the interactive flow exceeded its deadline.
	ErrAuthorizationTimedOut = errors.New("authorization timed out")
	// ErrIdentityProbeFailed means Helix answered with a non-401 failure or could not be reached.
	ErrIdentityProbeFailed = errors.New("identity probe failed")
	// ErrReauthorizationRejected means a freshly authorized token was still rejected.
	ErrReauthorizationRejected = errors.New("fresh token rejected by twitch")
)

// Store is the single-slot token cache. *tokenstore.FileStore implements it.
type Store interface {
	Read() (string, error)
	Write(token string) error
}

// Prober validates a token against Helix. *twitchapi.HelixClient implements it.
type Prober interface {
	GetAuthenticatedUser(ctx context.Context, token string) (*twitchapi.User, error)
}

// Authorizer obtains a brand new token interactively. *oauth.ImplicitFlow implements it.
type Authorizer interface {
	Authorize(ctx context.Context) (string, error)
}

// Identity is a validated token together with the account it belongs to.
type Identity struct {
	Token       string
	DisplayName string
	Login       string
	UserID      string
}

// Broker hands out validated credentials.
type Broker struct {
	Store      Store
	Prober     Prober
	Authorizer Authorizer
}

// New wires a broker from its three collaborators.
func New(store Store, prober Prober, authorizer Authorizer) *Broker {
	return &Broker{Store: store, Prober: prober, Authorizer: authorizer}
}

// Obtain returns a validated identity. With preferCache the cached token is
// tried first; otherwise (or when the cache is empty) authorization runs straight away.
func (b *Broker) Obtain(ctx context.Context, preferCache bool) (id Identity, err error) {
	ctx, span := telemetry.StartSpan(ctx, "credential.obtain")
	defer func() { telemetry.EndSpan(span, err) }()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "credential"))

	var tok string
	if preferCache {
		tok, err = b.Store.Read()
		if err != nil {
			return Identity{}, fmt.Errorf("read token cache: %w", err)
		}
		if tok == "" {
			log.Info("no cached token")
		}
	}

	fresh := false
	if tok == "" {
		if tok, err = b.reauthorize(ctx, log); err != nil {
			return Identity{}, err
		}
		fresh = true
	}

	id, ok, err := b.Validate(ctx, tok)
	if err != nil {
		return Identity{}, err
	}
	if ok {
		log.Info("token valid", slog.String("user", id.DisplayName), slog.Bool("cached", !fresh))
		return id, nil
	}
	if fresh {
		log.Error("freshly authorized token rejected", slog.String("token", telemetry.MaskToken(tok)))
		return Identity{}, ErrReauthorizationRejected
	}

	log.Info("cached token rejected; re-authorizing", slog.String("token", telemetry.MaskToken(tok)))
	if tok, err = b.reauthorize(ctx, log); err != nil {
		return Identity{}, err
	}
	id, ok, err = b.Validate(ctx, tok)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		log.Error("freshly authorized token rejected", slog.String("token", telemetry.MaskToken(tok)))
		return Identity{}, ErrReauthorizationRejected
	}
	log.Info("token valid", slog.String("user", id.DisplayName), slog.Bool("cached", false))
	return id, nil
}

// Validate probes tok. It reports false without error only when Helix answers 401.
func (b *Broker) Validate(ctx context.Context, tok string) (Identity, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "credential.validate")

	var (
		u   *twitchapi.User
		err error
	)
	telemetry.TimeFunc(telemetry.ProbeDuration, func() {
		u, err = b.Prober.GetAuthenticatedUser(ctx, tok)
	})
	switch {
	case errors.Is(err, twitchapi.ErrUnauthorized):
		telemetry.IncVec(telemetry.IdentityProbes, telemetry.ProbeInvalid)
		telemetry.EndSpan(span, nil)
		return Identity{}, false, nil
	case err != nil:
		telemetry.IncVec(telemetry.IdentityProbes, telemetry.ProbeError)
		err = fmt.Errorf("%w: %w", ErrIdentityProbeFailed, err)
		telemetry.EndSpan(span, err)
		return Identity{}, false, err
	}
	telemetry.IncVec(telemetry.IdentityProbes, telemetry.ProbeValid)
	telemetry.EndSpan(span, nil)
	return Identity{Token: tok, DisplayName: u.DisplayName, Login: u.Login, UserID: u.ID}, true, nil
}

// reauthorize runs the interactive flow once and persists its token.
func (b *Broker) reauthorize(ctx context.Context, log *slog.Logger) (string, error) {
	if b.Authorizer == nil {
		return "", fmt.Errorf("%w: no authorizer configured", ErrCredentialUnavailable)
	}
	telemetry.Inc(telemetry.Reauthorizations)
	log.Info("starting interactive authorization")

	var (
		tok string
		err error
	)
	telemetry.TimeFunc(telemetry.AuthorizeDuration, func() {
		tok, err = b.Authorizer.Authorize(ctx)
	})
	switch {
	case err == nil && tok == "":
		err = fmt.Errorf("%w: authorization returned no token", ErrCredentialUnavailable)
	case errors.Is(err, oauth.ErrTimedOut):
		err = fmt.Errorf("%w: %w", ErrAuthorizationTimedOut, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// caller gave up; surface as is
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrCredentialUnavailable, err)
	}
	if err != nil {
		telemetry.Inc(telemetry.AuthorizationErrs)
		log.Warn("interactive authorization failed", slog.Any("err", err))
		return "", err
	}

	if err := b.Store.Write(tok); err != nil {
		return "", fmt.Errorf("persist token: %w", err)
	}
	log.Info("new token stored", slog.String("token", telemetry.MaskToken(tok)))
	return tok, nil
}
