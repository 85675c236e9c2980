package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// HelixUser is the user object the mock returns from /helix/users.
type HelixUser struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// MockTwitchServer creates a test server that mocks Twitch Helix API responses.
// Point a HelixClient at HelixURL().
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to hand to twitchapi.HelixClient.
func (m *MockTwitchServer) HelixURL() string {
	return m.URL + "/helix"
}

// Calls reports how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// MockUsersByToken answers /helix/users for the bearer tokens in users and 401 for any other.
// Requests without a Client-Id header get 400, as Helix does.
func (m *MockTwitchServer) MockUsersByToken(users map[string]HelixUser) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") == "" {
			http.Error(w, `{"error":"Bad Request","status":400,"message":"Client-Id header required"}`, http.StatusBadRequest)
			return
		}
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u, ok := users[tok]
		if !ok {
			http.Error(w, `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`, http.StatusUnauthorized)
			return
		}
		response := map[string]interface{}{
			"data": []HelixUser{u},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStatus makes path answer with a bare status code.
func (m *MockTwitchServer) MockStatus(path string, code int) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}
