package cfg

import (
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load([]string{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.DBPath != "newsblock.sqlite" {
		t.Errorf("Expected default DB path 'newsblock.sqlite', got '%s'", cfg.DBPath)
	}
	if cfg.RefreshInterval != 14400*time.Second {
		t.Errorf("Expected refresh interval 4h, got %v", cfg.RefreshInterval)
	}
	if cfg.FetchTimeout != 8*time.Second {
		t.Errorf("Expected fetch timeout 8s, got %v", cfg.FetchTimeout)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", cfg.BatchSize)
	}
	if cfg.BatchSchedule != "@every 5m" {
		t.Errorf("Expected batch schedule '@every 5m', got '%s'", cfg.BatchSchedule)
	}
	if cfg.SourceLease {
		t.Error("Expected source lease to be disabled by default")
	}
	if Get() != cfg {
		t.Error("Expected Get to return the loaded configuration")
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := load([]string{
		"--db-path", "/tmp/test.sqlite",
		"--refresh-interval", "600",
		"--fetch-timeout", "3",
		"--batch-size", "7",
		"--source-lease",
		"--debug",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.DBPath != "/tmp/test.sqlite" {
		t.Errorf("Expected DB path '/tmp/test.sqlite', got '%s'", cfg.DBPath)
	}
	if cfg.RefreshInterval != 10*time.Minute {
		t.Errorf("Expected refresh interval 10m, got %v", cfg.RefreshInterval)
	}
	if cfg.FetchTimeout != 3*time.Second {
		t.Errorf("Expected fetch timeout 3s, got %v", cfg.FetchTimeout)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("Expected batch size 7, got %d", cfg.BatchSize)
	}
	if !cfg.SourceLease || !cfg.Debug {
		t.Error("Expected source lease and debug to be enabled")
	}
}

func TestLoadRejectsInvalidBatchSize(t *testing.T) {
	if _, err := load([]string{"--batch-size", "0"}); err == nil {
		t.Error("Expected error for zero batch size")
	}
}
