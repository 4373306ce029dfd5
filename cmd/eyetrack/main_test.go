package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/eyetrack/internal/config"
	"github.com/banshee-data/eyetrack/internal/db"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := loadSettings(filepath.Join(t.TempDir(), "missing.json"), nil)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if !s.GetSerialCommunication() || s.GetEyeSamplingRateHz() != config.DefaultEyeSamplingRateHz {
		t.Errorf("expected defaults, got %+v", s)
	}
}

func TestLoadSettings_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyetrack.json")
	if err := os.WriteFile(path, []byte(`{"eyeSamplingRateHz": 60, "device": "2"}`), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := loadSettings(path, nil)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if s.GetEyeSamplingRateHz() != 60 || s.GetDevice() != "2" {
		t.Errorf("file values not applied: rate=%d device=%q", s.GetEyeSamplingRateHz(), s.GetDevice())
	}
	// keys absent from the file keep their defaults
	if s.GetBaudRate() != config.DefaultBaudRate {
		t.Errorf("baud rate = %d, want default", s.GetBaudRate())
	}
}

func TestLoadSettings_FallsBackToDatabase(t *testing.T) {
	dir := t.TempDir()
	database, err := db.NewDB(filepath.Join(dir, "eyetrack.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer database.Close()

	stored := config.DefaultSettings()
	rate := 500
	stored.EyeSamplingRateHz = &rate
	if err := database.SaveSettings(db.DefaultSettingsName, stored); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	s, err := loadSettings(filepath.Join(dir, "missing.json"), database)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if s.GetEyeSamplingRateHz() != 500 {
		t.Errorf("rate = %d, want 500 from database", s.GetEyeSamplingRateHz())
	}
}

func TestLoadSettings_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eyetrack.json")
	if err := os.WriteFile(path, []byte(`{"eyeSamplingRateHz": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSettings(path, nil); err == nil {
		t.Fatal("expected error for invalid settings")
	}
}
