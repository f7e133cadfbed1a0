package app_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentseal/internal/app"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentseal.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := app.Default().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  max_skip: 250
envelope:
  max_age: 90s
rotation:
  grace_period: 2h
  medium_key_ttl: 48h
`)
	cfg, err := app.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.MaxSkip != 250 {
		t.Fatalf("max skip %d, want 250", cfg.Session.MaxSkip)
	}
	if cfg.Envelope.MaxAge.Std() != 90*time.Second {
		t.Fatalf("max age %s, want 90s", cfg.Envelope.MaxAge.Std())
	}
	if cfg.Rotation.GracePeriod.Std() != 2*time.Hour {
		t.Fatalf("grace period %s, want 2h", cfg.Rotation.GracePeriod.Std())
	}
	// Untouched fields keep their defaults.
	if cfg.Rotation.OneTimeBatch != app.Default().Rotation.OneTimeBatch {
		t.Fatalf("one-time batch %d changed", cfg.Rotation.OneTimeBatch)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "envelope:\n  max_age: soon\n")
	if _, err := app.Load(path); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"zero max skip":        "session:\n  max_skip: 0\n",
		"grace exceeds ttl":    "rotation:\n  grace_period: 48h\n  medium_key_ttl: 24h\n",
		"low water over batch": "rotation:\n  one_time_low_water: 100\n  one_time_batch: 10\n",
	}
	for name, body := range cases {
		path := writeConfig(t, body)
		if _, err := app.Load(path); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := app.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
