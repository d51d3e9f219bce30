package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeCamera struct {
	status          string
	detectorEnabled bool
	recordedAt      time.Time
}

func (f *fakeCamera) Status() string { return f.status }
func (f *fakeCamera) SetObjectDetectorEnabled(enabled bool) { f.detectorEnabled = enabled }
func (f *fakeCamera) ForceRecording(now time.Time) { f.recordedAt = now }

func testServer(t *testing.T) (*Server, *fakeCamera) {
	t.Helper()
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cam := &fakeCamera{status: "IDLE"}
	s := NewServer(Config{OperatorPasswordHash: hash, JWTSecret: "test-secret"}, map[string]Camera{"cam1": cam})
	return s, cam
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Password: "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := testServer(t)
	body, _ := json.Marshal(loginRequest{Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCameraEndpointsRequireAuth(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/cameras/cam1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}
}

func TestStatusAndToggleAndForceRecord(t *testing.T) {
	s, cam := testServer(t)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/cameras/cam1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var status statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "IDLE" {
		t.Fatalf("expected IDLE, got %s", status.Status)
	}

	body, _ := json.Marshal(detectorToggleRequest{Enabled: true})
	req = httptest.NewRequest(http.MethodPost, "/cameras/cam1/detector", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", w.Code)
	}
	if !cam.detectorEnabled {
		t.Fatal("expected detector to be enabled")
	}

	req = httptest.NewRequest(http.MethodPost, "/cameras/cam1/record", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("force record: expected 202, got %d", w.Code)
	}
	if cam.recordedAt.IsZero() {
		t.Fatal("expected ForceRecording to be called")
	}
}

func TestUnknownCameraReturnsNotFound(t *testing.T) {
	s, _ := testServer(t)
	token := login(t, s)
	req := httptest.NewRequest(http.MethodGet, "/cameras/doesnotexist", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
