package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionString is overridden at build time via -ldflags, following the
// WorkerHeartbeat.Version field's "reserve for build version or git SHA"
// comment in the teacher's worker_metrics.go.
var versionString = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the worker version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionString)
	},
}
