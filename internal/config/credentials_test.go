package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	content := `{
  // local gateway config
  "gateway": {
    /* auth block */
    "auth": {
      "token": "tok-from-file",
    },
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write credentials file: %v", err)
	}

	if got := FileToken(path)(); got != "tok-from-file" {
		t.Errorf("FileToken = %q; want %q", got, "tok-from-file")
	}
}

func TestFileTokenMissingFile(t *testing.T) {
	if got := FileToken(filepath.Join(t.TempDir(), "nope.json"))(); got != "" {
		t.Errorf("FileToken on a missing file = %q; want empty", got)
	}
	if got := FileToken("")(); got != "" {
		t.Errorf("FileToken on an empty path = %q; want empty", got)
	}
}

func TestPreprocessJSONLike(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"line_comment", "{\"a\": 1 // note\n}", "{\"a\": 1\n}"},
		{"block_comment", `{"a": /* gone */ 1}`, `{"a":  1}`},
		{"trailing_comma_inline", `{"a": 1,}`, `{"a": 1}`},
		{"trailing_comma_multiline", "{\"a\": 1,\n}", "{\"a\": 1}"},
		{"trailing_comma_array", `[1, 2,]`, `[1, 2]`},
		{"slashes_inside_string", `{"url": "wss://host/ws"}`, `{"url": "wss://host/ws"}`},
		{"plain", `{"a": 1}`, `{"a": 1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := preprocessJSONLike(tc.input); got != tc.want {
				t.Errorf("preprocessJSONLike(%q) = %q; want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestCredentialsPathOverride(t *testing.T) {
	t.Setenv("CLAWLINK_CREDENTIALS", "/tmp/custom.json")
	if got := CredentialsPath(); got != "/tmp/custom.json" {
		t.Errorf("CredentialsPath() = %q; want the override", got)
	}
}
