package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/twitch-viewer/oauth"
	"github.com/onnwee/twitch-viewer/telemetry"
	tu "github.com/onnwee/twitch-viewer/testutil"
	"github.com/onnwee/twitch-viewer/tokenstore"
	"github.com/onnwee/twitch-viewer/twitchapi"
)

type memStore struct {
	mu     sync.Mutex
	tok    string
	writes []string
	err    error
}

func (m *memStore) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tok, m.err
}

func (m *memStore) Write(tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, tok)
	m.tok = tok
	return nil
}

// fakeProber answers per token; unknown tokens get 401.
type fakeProber struct {
	mu     sync.Mutex
	users  map[string]*twitchapi.User
	errs   map[string]error
	probed []string
}

func (p *fakeProber) GetAuthenticatedUser(_ context.Context, tok string) (*twitchapi.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, tok)
	if err, ok := p.errs[tok]; ok {
		return nil, err
	}
	if u, ok := p.users[tok]; ok {
		return u, nil
	}
	return nil, twitchapi.ErrUnauthorized
}

type fakeAuthorizer struct {
	tokens []string
	err    error
	calls  int
}

func (a *fakeAuthorizer) Authorize(context.Context) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	if len(a.tokens) == 0 {
		return "", nil
	}
	tok := a.tokens[0]
	a.tokens = a.tokens[1:]
	return tok, nil
}

func TestObtain_CachedTokenValid(t *testing.T) {
	store := &memStore{tok: "tok123"}
	prober := &fakeProber{users: map[string]*twitchapi.User{"tok123": {ID: "1", Login: "foo", DisplayName: "Foo"}}}
	auth := &fakeAuthorizer{}

	id, err := New(store, prober, auth).Obtain(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, Identity{Token: "tok123", DisplayName: "Foo", Login: "foo", UserID: "1"}, id)
	require.Zero(t, auth.calls)
	require.Empty(t, store.writes)
	require.Equal(t, []string{"tok123"}, prober.probed)
}

func TestObtain_RejectedCacheReauthorizesOnce(t *testing.T) {
	store := &memStore{tok: "tok123"}
	prober := &fakeProber{users: map[string]*twitchapi.User{"tok456": {DisplayName: "Foo"}}}
	auth := &fakeAuthorizer{tokens: []string{"tok456", "tok789"}}

	id, err := New(store, prober, auth).Obtain(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, "tok456", id.Token)
	require.Equal(t, "Foo", id.DisplayName)
	require.Equal(t, 1, auth.calls)
	require.Equal(t, []string{"tok123", "tok456"}, prober.probed)
	require.Equal(t, []string{"tok456"}, store.writes)
}

func TestObtain_SecondRejectionIsFatal(t *testing.T) {
	store := &memStore{tok: "tok123"}
	prober := &fakeProber{}
	auth := &fakeAuthorizer{tokens: []string{"tok456", "tok789"}}

	_, err := New(store, prober, auth).Obtain(context.Background(), true)
	require.ErrorIs(t, err, ErrReauthorizationRejected)
	require.Equal(t, 1, auth.calls)
	require.Equal(t, []string{"tok123", "tok456"}, prober.probed)
}

func TestObtain_FreshTokenRejectedIsFatal(t *testing.T) {
	for _, preferCache := range []bool{true, false} {
		t.Run(fmt.Sprintf("preferCache=%v", preferCache), func(t *testing.T) {
			store := &memStore{}
			if !preferCache {
				store.tok = "ignored"
			}
			prober := &fakeProber{}
			auth := &fakeAuthorizer{tokens: []string{"tok456", "tok789"}}

			_, err := New(store, prober, auth).Obtain(context.Background(), preferCache)
			require.ErrorIs(t, err, ErrReauthorizationRejected)
			require.Equal(t, 1, auth.calls)
			require.Equal(t, []string{"tok456"}, prober.probed)
		})
	}
}

func TestObtain_NonUnauthorizedProbeFailureIsHard(t *testing.T) {
	store := &memStore{tok: "tok123"}
	statusErr := &twitchapi.StatusError{StatusCode: http.StatusServiceUnavailable, Status: "503 Service Unavailable"}
	prober := &fakeProber{errs: map[string]error{"tok123": statusErr}}
	auth := &fakeAuthorizer{tokens: []string{"tok456"}}

	_, err := New(store, prober, auth).Obtain(context.Background(), true)
	require.ErrorIs(t, err, ErrIdentityProbeFailed)
	var se *twitchapi.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	require.Zero(t, auth.calls, "a service failure must not trigger re-authorization")
}

func TestObtain_AuthorizerErrors(t *testing.T) {
	tests := []struct {
		name   string
		auth   *fakeAuthorizer
		wantIs error
		alsoIs error
	}{
		{name: "timeout", auth: &fakeAuthorizer{err: fmt.Errorf("%w after 600s", oauth.ErrTimedOut)}, wantIs: ErrAuthorizationTimedOut, alsoIs: oauth.ErrTimedOut},
		{name: "denied", auth: &fakeAuthorizer{err: oauth.ErrDenied}, wantIs: ErrCredentialUnavailable, alsoIs: oauth.ErrDenied},
		{name: "empty token", auth: &fakeAuthorizer{}, wantIs: ErrCredentialUnavailable},
		{name: "canceled", auth: &fakeAuthorizer{err: context.Canceled}, wantIs: context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			prober := &fakeProber{}
			_, err := New(store, prober, tt.auth).Obtain(context.Background(), true)
			require.ErrorIs(t, err, tt.wantIs)
			if tt.alsoIs != nil {
				require.ErrorIs(t, err, tt.alsoIs)
			}
			require.Equal(t, 1, tt.auth.calls)
			require.Empty(t, prober.probed)
			require.Empty(t, store.writes)
		})
	}
}

func TestObtain_StoreReadError(t *testing.T) {
	store := &memStore{err: errors.New("permission denied")}
	auth := &fakeAuthorizer{tokens: []string{"tok456"}}
	_, err := New(store, &fakeProber{}, auth).Obtain(context.Background(), true)
	require.Error(t, err)
	require.Zero(t, auth.calls)
}

func TestValidate(t *testing.T) {
	prober := &fakeProber{
		users: map[string]*twitchapi.User{"good": {DisplayName: "Foo"}},
		errs:  map[string]error{"broken": errors.New("dial tcp: connection refused")},
	}
	b := New(&memStore{}, prober, nil)

	id, ok, err := b.Validate(context.Background(), "good")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Foo", id.DisplayName)

	_, ok, err = b.Validate(context.Background(), "expired")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = b.Validate(context.Background(), "broken")
	require.ErrorIs(t, err, ErrIdentityProbeFailed)
	require.False(t, ok)
}

func TestObtain_RecordsMetrics(t *testing.T) {
	telemetry.Init()
	beforeReauth := testutil.ToFloat64(telemetry.Reauthorizations)
	beforeInvalid := testutil.ToFloat64(telemetry.IdentityProbes.WithLabelValues(telemetry.ProbeInvalid))
	beforeValid := testutil.ToFloat64(telemetry.IdentityProbes.WithLabelValues(telemetry.ProbeValid))

	store := &memStore{tok: "tok123"}
	prober := &fakeProber{users: map[string]*twitchapi.User{"tok456": {DisplayName: "Foo"}}}
	_, err := New(store, prober, &fakeAuthorizer{tokens: []string{"tok456"}}).Obtain(context.Background(), true)
	require.NoError(t, err)

	require.Equal(t, beforeReauth+1, testutil.ToFloat64(telemetry.Reauthorizations))
	require.Equal(t, beforeInvalid+1, testutil.ToFloat64(telemetry.IdentityProbes.WithLabelValues(telemetry.ProbeInvalid)))
	require.Equal(t, beforeValid+1, testutil.ToFloat64(telemetry.IdentityProbes.WithLabelValues(telemetry.ProbeValid)))
}

// The full path against a fake Helix and a real cache file.
func TestObtain_EndToEndWithFileStoreAndHelix(t *testing.T) {
	helix := tu.NewMockTwitchServer(t)
	helix.MockUsersByToken(map[string]tu.HelixUser{
		"tok456": {ID: "42", Login: "foo", DisplayName: "Foo"},
	})

	path := filepath.Join(t.TempDir(), "cache", "oauth-token")
	store := tokenstore.New(path, nil)
	require.NoError(t, store.Write("tok123"))

	prober := &twitchapi.HelixClient{ClientID: "cid", BaseURL: helix.HelixURL()}
	auth := &fakeAuthorizer{tokens: []string{"tok456"}}

	id, err := New(store, prober, auth).Obtain(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, "tok456", id.Token)
	require.Equal(t, "Foo", id.DisplayName)
	require.Equal(t, 1, auth.calls)
	require.Equal(t, 2, helix.Calls("/helix/users"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "tok456", string(b))
}
