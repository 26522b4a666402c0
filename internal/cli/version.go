package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("foresight %s (commit: %s, built: %s)\n", moduleVersion(), Commit, BuildDate)
	},
}

// moduleVersion falls back to the module version recorded by `go install`
// when the binary was built without ldflags.
func moduleVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// VersionString is reported by /api/health.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", moduleVersion(), Commit)
}
