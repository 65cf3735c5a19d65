package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var (
	versionOnce   sync.Once
	cachedVersion string
)

// appVersion returns the best-effort version string for the toolq binary.
// The lookup order is:
//  1. Explicit TOOLQ_VERSION environment variable (useful for custom builds)
//  2. Go build information when available (e.g. go install ...@vX)
//  3. A development fallback string
func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion()
	})
	return cachedVersion
}

func detectVersion() string {
	if v := strings.TrimSpace(os.Getenv("TOOLQ_VERSION")); v != "" {
		return v
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return fmt.Sprintf("dev-%s", setting.Value)
			}
		}
	}

	return "development"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolq version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("toolq %s\n", appVersion())
		},
	}
}
