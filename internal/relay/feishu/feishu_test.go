package feishu

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()
	if cfg.StateDir == "" {
		cfg.StateDir = t.TempDir()
	}
	return New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateBindCode(t *testing.T) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		code := generateBindCode(6)
		if len(code) != 6 {
			t.Fatalf("code length = %d; want 6", len(code))
		}
		for _, ch := range code {
			if !strings.ContainsRune(charset, ch) {
				t.Fatalf("code %q contains %q outside the unambiguous charset", code, ch)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("twenty generated codes were all identical")
	}
}

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowFrom []string
		bound     string
		userID    string
		want      bool
	}{
		{"allowlist_match", []string{"ou_1"}, "", "ou_1", true},
		{"allowlist_miss", []string{"ou_1"}, "", "ou_2", false},
		{"allowlist_wildcard", []string{"*"}, "", "ou_any", true},
		{"bound_user", nil, "ou_bound", "ou_bound", true},
		{"bound_other", nil, "ou_bound", "ou_else", false},
		{"nothing_configured", nil, "", "ou_x", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := testRelay(t, Config{AllowFrom: tc.allowFrom})
			r.boundUserID = tc.bound
			if got := r.isAllowed(tc.userID); got != tc.want {
				t.Errorf("isAllowed(%q) = %v; want %v", tc.userID, got, tc.want)
			}
		})
	}
}

func TestBindStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := testRelay(t, Config{StateDir: dir})

	if err := r.saveBindState(bindState{BoundUserID: "ou_123"}); err != nil {
		t.Fatalf("saveBindState: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "feishu.json")); err != nil {
		t.Fatalf("state file missing: %v", err)
	}

	loaded, err := r.loadBindState()
	if err != nil {
		t.Fatalf("loadBindState: %v", err)
	}
	if loaded.BoundUserID != "ou_123" {
		t.Errorf("loaded BoundUserID = %q; want %q", loaded.BoundUserID, "ou_123")
	}
}

func TestMaskID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"ou_abcdefghijk", "ou_ab...ijk"},
	}
	for _, tc := range tests {
		if got := maskID(tc.in); got != tc.want {
			t.Errorf("maskID(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestPtrStr(t *testing.T) {
	if got := ptrStr(nil); got != "" {
		t.Errorf("ptrStr(nil) = %q; want empty", got)
	}
	s := "v"
	if got := ptrStr(&s); got != "v" {
		t.Errorf("ptrStr = %q; want %q", got, "v")
	}
}
