package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Addr != "127.0.0.1:6457" {
		t.Errorf("API.Addr = %q, want 127.0.0.1:6457", cfg.API.Addr)
	}
	if cfg.Management.Addr != "127.0.0.1:6458" {
		t.Errorf("Management.Addr = %q, want 127.0.0.1:6458", cfg.Management.Addr)
	}
	if cfg.Expand.Depth != 2 {
		t.Errorf("Expand.Depth = %d, want 2", cfg.Expand.Depth)
	}
	if cfg.Upstream.Domain != "https://en.wikipedia.org/" {
		t.Errorf("Upstream.Domain = %q", cfg.Upstream.Domain)
	}
	if filepath.Base(cfg.Cache.Root) != "six_degrees_cache" {
		t.Errorf("Cache.Root = %q, want .../six_degrees_cache", cfg.Cache.Root)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SIXDEGREES_UPSTREAM_DOMAIN", "https://de.wikipedia.org/")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.Domain != "https://de.wikipedia.org/" {
		t.Errorf("Upstream.Domain = %q, want env override", cfg.Upstream.Domain)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	yaml := "expand:\n  depth: 4\nupstream:\n  domain: https://fr.wikipedia.org/\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Expand.Depth != 4 {
		t.Errorf("Expand.Depth = %d, want 4 from file", cfg.Expand.Depth)
	}
	if cfg.Upstream.Domain != "https://fr.wikipedia.org/" {
		t.Errorf("Upstream.Domain = %q, want file override", cfg.Upstream.Domain)
	}
	// Untouched keys keep their defaults.
	if cfg.API.Addr != "127.0.0.1:6457" {
		t.Errorf("API.Addr = %q, want default", cfg.API.Addr)
	}
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load with a named missing config file should fail")
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		port    int
		want    string
		wantErr bool
	}{
		{"", 6457, "127.0.0.1:6457", false},
		{"192.168.1.2:3303", 6457, "192.168.1.2:3303", false},
		{"192.168.1.2", 6457, "192.168.1.2:6457", false},
		{":3303", 6457, "127.0.0.1:3303", false},
		{"example.org", 6458, "example.org:6458", false},
		{"example.org:80", 6458, "example.org:80", false},
		{"192.168.1.2:67034", 6457, "", true},
		{"192.168.1.2:nope", 6457, "", true},
	}

	for _, tt := range tests {
		got, err := ParseAddr(tt.in, tt.port)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAddr(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddr(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"$HOME/six_degrees_cache", filepath.Join(home, "six_degrees_cache")},
		{"~/cache", filepath.Join(home, "cache")},
		{"/var/cache/sixdegrees", "/var/cache/sixdegrees"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampDepth(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-3, 1}, {0, 1}, {1, 1}, {2, 2}, {6, 6}, {7, 6}, {50, 6},
	}

	for _, tt := range tests {
		if got := ClampDepth(tt.in); got != tt.want {
			t.Errorf("ClampDepth(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
