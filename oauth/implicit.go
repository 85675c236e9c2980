// Package oauth runs the interactive Twitch implicit-grant authorization.
//
// ImplicitFlow opens the consent page in the user's browser and waits for
// Twitch to redirect to a local callback. The callback listener exists only
// for the duration of one Authorize call and is shut down on every exit path.
// Because the implicit grant returns the token in the URL fragment, which
// browsers never send to servers, the redirect page carries a tiny script that
// re-submits the fragment as a query to /token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/twitch-viewer/twitchapi"
)

var (
	// ErrTimedOut is returned when the browser did not come back before the deadline.
	ErrTimedOut = errors.New("oauth: timed out waiting for authorization")
	// ErrDenied is returned when the user declined the consent screen.
	ErrDenied = errors.New("oauth: authorization denied")
)

// DefaultTimeout mirrors how long a user gets to finish the consent screen.
const DefaultTimeout = 600 * time.Second

// ImplicitFlow drives one browser-based implicit-grant authorization.
type ImplicitFlow struct {
	ClientID    string
	RedirectURL string // http://host:port[/path]; the listener binds host:port
	Scopes      []string
	Timeout     time.Duration

	// OpenBrowser launches the consent URL. Defaults to the platform opener.
	OpenBrowser func(url string) error
	// Prompt receives the consent URL so the user can open it by hand. Defaults to stderr.
	Prompt io.Writer
}

type result struct {
	token string
	err   error
}

// Authorize returns a fresh user access token.
func (f *ImplicitFlow) Authorize(ctx context.Context) (string, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	redirect, err := url.Parse(f.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	state := uuid.NewString()
	authURL, err := twitchapi.ImplicitAuthorizeURL(f.ClientID, f.RedirectURL, f.Scopes, state)
	if err != nil {
		return "", err
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("listen for oauth callback on %s: %w", redirect.Host, err)
	}
	results := make(chan result, 1)
	srv := &http.Server{
		Handler:           callbackMux(redirect.Path, state, results),
		ReadHeaderTimeout: 5 * time.Second,
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("oauth callback server error", slog.Any("err", err), slog.String("component", "oauth"))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-served
		slog.Debug("oauth callback server stopped", slog.String("addr", redirect.Host), slog.String("component", "oauth"))
	}()

	f.announce(authURL)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-results:
		return r.token, r.err
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *ImplicitFlow) announce(authURL string) {
	w := f.Prompt
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Authorize the viewer with Twitch:\n%s\n", authURL)
	open := f.OpenBrowser
	if open == nil {
		open = openBrowser
	}
	if err := open(authURL); err != nil {
		slog.Warn("could not open browser automatically", slog.Any("err", err), slog.String("component", "oauth"))
	}
}

// redirectPage moves the fragment into a query and hands it to /token.
var redirectPage = template.Must(template.New("redirect").Parse(`<!doctype html>
<html><head><title>Twitch Viewer</title></head>
<body>
<p>Finishing sign-in&hellip;</p>
<script>
var params = window.location.hash.substring(1) || window.location.search.substring(1);
window.location.replace({{.}} + "?" + params);
</script>
</body></html>
`))

func callbackMux(path, state string, results chan<- result) http.Handler {
	if path == "" {
		path = "/"
	}
	deliver := func(r result) {
		select {
		case results <- r:
		default: // first answer wins
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tok, err := twitchapi.ParseImplicitResult(r.URL.Query(), state)
		switch {
		case errors.Is(err, twitchapi.ErrAccessDenied):
			http.Error(w, "Authorization was declined. You can close this tab.", http.StatusForbidden)
			deliver(result{err: ErrDenied})
		case errors.Is(err, twitchapi.ErrStateMismatch):
			// stray or replayed redirect; keep waiting for the real one
			http.Error(w, "state mismatch", http.StatusBadRequest)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
			deliver(result{err: err})
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, "All set! You can now head back to the app.")
			deliver(result{token: tok})
		}
	})
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := redirectPage.Execute(w, "/token"); err != nil {
			slog.Warn("render oauth redirect page", slog.Any("err", err), slog.String("component", "oauth"))
		}
	})
	return mux
}

func openBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32.exe", "url.dll,FileProtocolHandler", target)
	case "darwin":
		cmd = exec.Command("open", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
}
