package config

import "os"

// TokenEnvVar is the environment variable consulted last for the gateway
// bearer token.
const TokenEnvVar = "CLAWLINK_GATEWAY_TOKEN"

// Source lazily produces one candidate credential value. Sources that fail
// simply return "".
type Source func() string

// Static wraps a known value as a Source.
func Static(v string) Source {
	return func() string { return v }
}

// Env reads an environment variable as a Source.
func Env(name string) Source {
	return func() string { return os.Getenv(name) }
}

// Resolve walks the sources in order and returns the first non-empty
// value. Precedence is fixed by argument order and nothing else: callers
// supply explicit value > keychain > credentials file > environment, so a
// stale environment variable can never shadow a freshly rotated token read
// from the keychain or the credentials file.
func Resolve(sources ...Source) string {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if v := src(); v != "" {
			return v
		}
	}
	return ""
}
