package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockArcadeServer is a test server that mocks the arcade backend's
// account-management API.
type MockArcadeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockArcadeServer creates a new mock backend. Unhandled paths return 404.
func NewMockArcadeServer(t *testing.T) *MockArcadeServer {
	t.Helper()
	m := &MockArcadeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockStatusResponse serves /api/account/status. online is passed through as-is
// so tests can exercise the bool-like encodings backends actually emit.
func (m *MockArcadeServer) MockStatusResponse(online any, displayName string, rating int) {
	m.Handlers["/api/account/status"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"online":       online,
			"display_name": displayName,
			"rating":       rating,
		})
	}
}

// MockLockResponse serves /api/account/lock.
func (m *MockArcadeServer) MockLockResponse(success bool, sessionRef string) {
	m.Handlers["/api/account/lock"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     success,
			"session_ref": sessionRef,
		})
	}
}

// MockUnlockResponse serves /api/account/unlock.
func (m *MockArcadeServer) MockUnlockResponse(success bool) {
	m.Handlers["/api/account/unlock"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": success})
	}
}

// MockUploadSubmit serves /api/upload/<target>.
func (m *MockArcadeServer) MockUploadSubmit(target, jobID string) {
	m.Handlers["/api/upload/"+target] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
	}
}

// MockUploadJob serves /api/upload/jobs/<id>.
func (m *MockArcadeServer) MockUploadJob(jobID string, body map[string]any) {
	m.Handlers["/api/upload/jobs/"+jobID] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}
