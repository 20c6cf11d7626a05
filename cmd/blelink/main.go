package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Every call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blelink",
		Short: "BLE central session tool",
		Long: `blelink drives BLE peripherals from discovery to a ready GATT session:

- Scan for nearby peripherals, filtered by service, name or address
- Connect with a service contract, verify services and characteristics,
  enable notifications and keep the link alive with a heartbeat
- Build and check fixed-length command frames
- Split payloads into segmented transfers

Service contracts and timings are read from a YAML file (--config).`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	}

	// main() prints errors itself
	root.SilenceErrors = true

	root.AddCommand(newScanCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newFrameCmd())
	root.AddCommand(newSegmentCmd())

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides the config file")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")

	root.Flags().BoolP("version", "v", false, "Show version information")
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
