package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// MockWebexServer creates a test server that mocks Webex REST API responses
type MockWebexServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	messages []map[string]string
}

// NewMockWebexServer creates a new mock Webex API server
func NewMockWebexServer(t *testing.T) *MockWebexServer {
	t.Helper()
	m := &MockWebexServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockMe adds a handler for GET /people/me
func (m *MockWebexServer) MockMe(personID, displayName string) {
	m.Handlers["GET /people/me"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test mock response
			"id":          personID,
			"displayName": displayName,
		})
	}
}

// MockPerson adds a handler for GET /people/{id}
func (m *MockWebexServer) MockPerson(personID, displayName string) {
	m.Handlers["GET /people/"+personID] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test mock response
			"id":          personID,
			"displayName": displayName,
		})
	}
}

// MockRoom adds a handler for GET /rooms/{id}
func (m *MockWebexServer) MockRoom(roomID, title string) {
	m.Handlers["GET /rooms/"+roomID] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test mock response
			"id":    roomID,
			"title": title,
		})
	}
}

// MockMemberships adds a handler for GET /memberships returning the given person ids
func (m *MockWebexServer) MockMemberships(roomID string, personIDs ...string) {
	m.Handlers["GET /memberships"] = func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]string, 0, len(personIDs))
		for i, pid := range personIDs {
			items = append(items, map[string]string{
				"id":       "membership-" + strconv.Itoa(i+1),
				"roomId":   roomID,
				"personId": pid,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items}) //nolint:errcheck // test mock response
	}
}

// MockMembershipsError adds a failing handler for GET /memberships
func (m *MockWebexServer) MockMembershipsError(status int) {
	m.Handlers["GET /memberships"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", status)
	}
}

// MockWebhookList adds a handler for GET /webhooks returning the given webhooks
func (m *MockWebexServer) MockWebhookList(webhooks []map[string]string) {
	m.Handlers["GET /webhooks"] = func(w http.ResponseWriter, r *http.Request) {
		if webhooks == nil {
			webhooks = []map[string]string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": webhooks}) //nolint:errcheck // test mock response
	}
}

// MockWebhookCreate adds a handler for POST /webhooks that echoes the request
// back with sequential ids (wh-1, wh-2, ...).
func (m *MockWebexServer) MockWebhookCreate() *[]map[string]string {
	created := &[]map[string]string{}
	var mu sync.Mutex
	m.Handlers["POST /webhooks"] = func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test mock request
		mu.Lock()
		n := len(*created) + 1
		req["id"] = "wh-" + strconv.Itoa(n)
		*created = append(*created, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(req) //nolint:errcheck // test mock response
	}
	return created
}

// MockMessagePost adds a handler for POST /messages and records each payload;
// use SentMessages to inspect them.
func (m *MockWebexServer) MockMessagePost() {
	m.Handlers["POST /messages"] = func(w http.ResponseWriter, r *http.Request) {
		var msg map[string]string
		_ = json.NewDecoder(r.Body).Decode(&msg) //nolint:errcheck // test mock request
		m.mu.Lock()
		m.messages = append(m.messages, msg)
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-1"}) //nolint:errcheck // test mock response
	}
}

// SentMessages returns a copy of the payloads captured by MockMessagePost.
func (m *MockWebexServer) SentMessages() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]string, len(m.messages))
	copy(out, m.messages)
	return out
}

// MockTokenResponse adds a handler for the OAuth token endpoint
func (m *MockWebexServer) MockTokenResponse(accessToken, refreshToken string, expiresIn, refreshExpiresIn int) {
	m.Handlers["POST /access_token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"access_token":             accessToken,
			"refresh_token":            refreshToken,
			"expires_in":               expiresIn,
			"refresh_token_expires_in": refreshExpiresIn,
			"token_type":               "Bearer",
		})
	}
}

// TokenURL returns the mock token endpoint URL.
func (m *MockWebexServer) TokenURL() string {
	return m.URL + "/access_token"
}
