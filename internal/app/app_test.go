package app

import (
	"testing"

	"wb-go/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Store = config.StoreConfig{Type: "memory"}
	return cfg
}

func TestNewWBApp(t *testing.T) {
	a, err := NewWBApp(testConfig(t), "Test")
	if err != nil {
		t.Fatalf("NewWBApp() error = %v", err)
	}
	defer a.Close()

	if a.Service() == nil {
		t.Error("Service() = nil")
	}
	if a.Secrets() == nil {
		t.Error("Secrets() = nil")
	}
}

func TestTabularIsSingleInstance(t *testing.T) {
	a, err := NewWBApp(testConfig(t), "Test")
	if err != nil {
		t.Fatalf("NewWBApp() error = %v", err)
	}
	defer a.Close()

	cache := a.Tabular()
	if cache == nil {
		t.Fatal("Tabular() = nil")
	}
	// The same cache instance the service invalidates against.
	if a.Tabular() != cache {
		t.Error("Tabular() returns a new cache per call")
	}
}
