// Package config loads the daemon's environment-driven top-level
// configuration and its per-camera YAML configuration file.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// DaemonConfig holds everything the daemon needs that isn't per-camera:
// where things live on disk, which ports to listen on, and the
// credentials guarding the control surface.
type DaemonConfig struct {
	AppDir         string
	CamerasFile    string // computed: AppDir + "/cameras.yaml"
	RecordingsDir  string // computed: AppDir + "/recordings"
	SegmentsDir    string // computed: AppDir + "/segments"

	StatusPort  string // websocket status feed
	ControlPort string // JWT-authenticated control HTTP surface

	OperatorPasswordHash string
	JWTSecret            string

	// DatabaseURL, if set, enables the Postgres audit sink; otherwise the
	// daemon falls back to an in-memory one.
	DatabaseURL string
}

// LoadDaemonConfig loads and validates daemon configuration from the
// environment, reading a .env file in the working directory first if
// present.
func LoadDaemonConfig() (*DaemonConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[Config] could not load .env file: %v", err)
	}

	var missingVars []string
	var errs []string

	appDir := os.Getenv("APP_DIR")
	if appDir == "" {
		missingVars = append(missingVars, "APP_DIR")
	}

	statusPort := os.Getenv("STATUS_PORT")
	if statusPort == "" {
		missingVars = append(missingVars, "STATUS_PORT")
	}

	controlPort := os.Getenv("CONTROL_PORT")
	if controlPort == "" {
		missingVars = append(missingVars, "CONTROL_PORT")
	}

	operatorPasswordHash := os.Getenv("OPERATOR_PASSWORD_HASH")
	if operatorPasswordHash == "" {
		missingVars = append(missingVars, "OPERATOR_PASSWORD_HASH")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "change-me-in-production"
		log.Printf("[Config] WARNING: using default JWT_SECRET. Set JWT_SECRET in production!")
	}

	databaseURL := os.Getenv("DATABASE_URL")

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}
	if _, err := strconv.Atoi(statusPort); err != nil {
		errs = append(errs, fmt.Sprintf("STATUS_PORT must be a number, got: %s", statusPort))
	}
	if _, err := strconv.Atoi(controlPort); err != nil {
		errs = append(errs, fmt.Sprintf("CONTROL_PORT must be a number, got: %s", controlPort))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation errors: %v", errs)
	}

	cfg := &DaemonConfig{
		AppDir:               appDir,
		CamerasFile:          filepath.Join(appDir, "cameras.yaml"),
		RecordingsDir:        filepath.Join(appDir, "recordings"),
		SegmentsDir:          filepath.Join(appDir, "segments"),
		StatusPort:           statusPort,
		ControlPort:          controlPort,
		OperatorPasswordHash: operatorPasswordHash,
		JWTSecret:            jwtSecret,
		DatabaseURL:          databaseURL,
	}

	log.Printf("[Config] Loaded configuration:")
	log.Printf("[Config]   APP_DIR: %s", cfg.AppDir)
	log.Printf("[Config]   CAMERAS_FILE: %s", cfg.CamerasFile)
	log.Printf("[Config]   RECORDINGS_DIR: %s", cfg.RecordingsDir)
	log.Printf("[Config]   STATUS_PORT: %s", cfg.StatusPort)
	log.Printf("[Config]   CONTROL_PORT: %s", cfg.ControlPort)
	if cfg.DatabaseURL != "" {
		log.Printf("[Config]   DATABASE_URL: set")
	} else {
		log.Printf("[Config]   DATABASE_URL: (unset, using in-memory audit store)")
	}

	return cfg, nil
}
