// Package infra carries small process-level helpers shared by the CLI
// commands and the debug API.
package infra

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// RuntimeInfo describes the Go runtime the bridge is executing on. It is
// reported by the debug status endpoint.
type RuntimeInfo struct {
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"numCPU"`
}

// GetRuntimeInfo snapshots the current runtime.
func GetRuntimeInfo() RuntimeInfo {
	return RuntimeInfo{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
	}
}

// IsTruthyEnv reports whether an environment variable holds a truthy value
// ("1", "true", "yes" or "on", case-insensitive). Used for switches like
// CLAWLINK_DEBUG that must work without a config file.
func IsTruthyEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// PrintBanner prints the clawlink startup banner.
func PrintBanner(version string) {
	fmt.Println()
	fmt.Println("  🔗 clawlink - agent gateway bridge")
	fmt.Printf("     version: %s\n", version)
	fmt.Printf("     runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Println()
}
