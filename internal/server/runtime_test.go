package server

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeOptionsDefaults(t *testing.T) {
	options := normalizeOptions(Options{})
	if options.Addr != ":3001" {
		t.Fatalf("expected default addr :3001, got %q", options.Addr)
	}
	if options.ShutdownTimeout != 5*time.Second {
		t.Fatalf("expected 5s shutdown timeout, got %s", options.ShutdownTimeout)
	}
}

func TestNewRuntimeWithDefaultPolicy(t *testing.T) {
	runtime, err := NewRuntime(Options{
		Addr:       "127.0.0.1:0",
		PolicyPath: filepath.Join(t.TempDir(), "absent-policy.json"),
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if runtime.cfg.Store.Backend != "memory" {
		t.Fatalf("expected default memory store backend, got %q", runtime.cfg.Store.Backend)
	}
	if runtime.queue == nil {
		t.Fatalf("expected queue service to be wired")
	}
	if runtime.server == nil || runtime.server.Addr != "127.0.0.1:0" {
		t.Fatalf("expected http server bound to requested addr")
	}
}
