// Package control is the daemon's HTTP control surface: enable/disable a
// camera's object detector, force a manual recording, and fetch a
// camera's current Event state, all behind a bearer token issued by
// Login and verified on every other request.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Camera is the subset of a pipeline.Camera the control surface needs.
// Defined here, not imported from pipeline, so pipeline never has to know
// control exists.
type Camera interface {
	Status() string
	SetObjectDetectorEnabled(enabled bool)
	ForceRecording(now time.Time)
}

// Config holds the operator credential and JWT signing secret.
type Config struct {
	OperatorPasswordHash string // bcrypt hash, see HashPassword
	JWTSecret            string
	TokenTTL             time.Duration // default 12h
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 12 * time.Hour
	}
	return c
}

// HashPassword bcrypt-hashes an operator password for storage in Config.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

type claims struct {
	jwt.RegisteredClaims
}

// Server implements the control HTTP surface over a fixed set of named
// cameras.
type Server struct {
	cfg     Config
	cameras map[string]Camera
}

// NewServer builds a Server for the given camera name -> Camera set.
func NewServer(cfg Config, cameras map[string]Camera) *Server {
	return &Server{cfg: cfg.withDefaults(), cameras: cameras}
}

// Handler returns the control surface's http.Handler, routing by path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/cameras/", s.requireAuth(s.handleCamera))
	return mux
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(s.cfg.OperatorPasswordHash), []byte(req.Password)) != nil {
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		writeError(w, "could not sign token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: signed})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.verify(r); err != nil {
			writeError(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) verify(r *http.Request) (*claims, error) {
	header := r.Header.Get("Authorization")
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenStr == "" {
		return nil, errors.New("control: missing bearer token")
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type statusResponse struct {
	Camera string `json:"camera"`
	Status string `json:"status"`
}

// handleCamera dispatches /cameras/<name>[/detector|/record].
func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/cameras/")
	parts := strings.SplitN(path, "/", 2)
	name := parts[0]

	cam, ok := s.cameras[name]
	if !ok {
		writeError(w, "unknown camera", http.StatusNotFound)
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, statusResponse{Camera: name, Status: cam.Status()})
	case "detector":
		s.handleDetectorToggle(w, r, cam)
	case "record":
		s.handleForceRecord(w, r, cam)
	default:
		writeError(w, "unknown action", http.StatusNotFound)
	}
}

type detectorToggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleDetectorToggle(w http.ResponseWriter, r *http.Request, cam Camera) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req detectorToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	cam.SetObjectDetectorEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleForceRecord(w http.ResponseWriter, r *http.Request, cam Camera) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cam.ForceRecording(time.Now())
	writeJSON(w, http.StatusAccepted, map[string]bool{"recording": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
