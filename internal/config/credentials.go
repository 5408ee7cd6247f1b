package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CredentialsPath returns the gateway's own config file, the canonical
// on-disk home of the bearer token for local deployments. The file is
// read-only from the bridge's perspective.
func CredentialsPath() string {
	if p := os.Getenv("CLAWLINK_CREDENTIALS"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openclaw", "openclaw.json")
}

// FileToken returns a Source reading gateway.auth.token from the gateway
// config file at path. The file is JSON with optional comments and
// trailing commas, so it is cleaned up before parsing.
func FileToken(path string) Source {
	return func() string {
		if path == "" {
			return ""
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}

		var doc struct {
			Gateway struct {
				Auth struct {
					Token string `json:"token"`
				} `json:"auth"`
			} `json:"gateway"`
		}
		clean := preprocessJSONLike(string(data))
		if err := json.Unmarshal([]byte(clean), &doc); err != nil {
			return ""
		}
		return doc.Gateway.Auth.Token
	}
}

// preprocessJSONLike strips /* */ and // comments plus trailing commas so
// the gateway's JSON5-flavored config parses with encoding/json.
func preprocessJSONLike(input string) string {
	s := input
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			break
		}
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			s = s[:start]
			break
		}
		end += start + 2
		s = s[:start] + s[end+2:]
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		inString := false
		escape := false
		for j := 0; j < len(line)-1; j++ {
			ch := line[j]
			if ch == '\\' && inString {
				escape = !escape
				continue
			}
			if ch == '"' && !escape {
				inString = !inString
			}
			escape = false
			if !inString && ch == '/' && line[j+1] == '/' {
				line = line[:j]
				break
			}
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	return trailingComma.ReplaceAllString(s, "$1")
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)
