package main

import (
	"fmt"
	"os"

	"github.com/clawlink/clawlink/internal/cli"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	cli.SetBuildInfo(Version, BuildDate, GitCommit)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[clawlink] %v\n", err)
		os.Exit(1)
	}
}
