package config

import "testing"

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Frame.MaxSize != 65536 {
		t.Fatalf("expected default max frame size 65536, got %d", cfg.Frame.MaxSize)
	}
	if cfg.Registry.ListenAddr == "" {
		t.Fatal("expected a default registry listen address")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JRPC_FRAME_MAX_SIZE", "1024")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Frame.MaxSize != 1024 {
		t.Fatalf("expected env override to set max frame size to 1024, got %d", cfg.Frame.MaxSize)
	}
}
