// Command stratum serves the cluster lifecycle REST API ("stratum server")
// and drives a running server from the command line ("stratum cluster").
package main

import (
	"fmt"
	"os"

	"evalgo.org/stratum/internal/commands"
	"evalgo.org/stratum/internal/version"
)

// Stamped by the release build with -ldflags "-X main.Version=...".
var (
	Version   string
	BuildTime string
	GitCommit string
)

func main() {
	version.Stamp(Version, BuildTime, GitCommit)

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stratum: %v\n", err)
		os.Exit(1)
	}
}
