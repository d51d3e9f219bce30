package config

import "testing"

func TestLoadDaemonConfigRequiresCoreVars(t *testing.T) {
	t.Setenv("APP_DIR", "")
	t.Setenv("STATUS_PORT", "")
	t.Setenv("CONTROL_PORT", "")
	t.Setenv("OPERATOR_PASSWORD_HASH", "")
	if _, err := LoadDaemonConfig(); err == nil {
		t.Fatal("expected an error when required vars are missing")
	}
}

func TestLoadDaemonConfigComputesPaths(t *testing.T) {
	t.Setenv("APP_DIR", "/data/camerad")
	t.Setenv("STATUS_PORT", "8081")
	t.Setenv("CONTROL_PORT", "8082")
	t.Setenv("OPERATOR_PASSWORD_HASH", "hash")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadDaemonConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CamerasFile != "/data/camerad/cameras.yaml" {
		t.Errorf("unexpected cameras file path: %s", cfg.CamerasFile)
	}
	if cfg.RecordingsDir != "/data/camerad/recordings" {
		t.Errorf("unexpected recordings dir: %s", cfg.RecordingsDir)
	}
	if cfg.StatusPort != "8081" || cfg.ControlPort != "8082" {
		t.Errorf("unexpected ports: status=%s control=%s", cfg.StatusPort, cfg.ControlPort)
	}
}

func TestLoadDaemonConfigRejectsNonNumericPorts(t *testing.T) {
	t.Setenv("APP_DIR", "/data/camerad")
	t.Setenv("STATUS_PORT", "not-a-port")
	t.Setenv("CONTROL_PORT", "8082")
	t.Setenv("OPERATOR_PASSWORD_HASH", "hash")

	if _, err := LoadDaemonConfig(); err == nil {
		t.Fatal("expected an error for a non-numeric STATUS_PORT")
	}
}
