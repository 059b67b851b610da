package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"judgeworker/core"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "One-shot liveness probe of a running worker's status endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := core.Load()
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%s/healthz", cfg.Port))
		if err != nil {
			fmt.Fprintln(os.Stderr, "healthcheck failed:", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintln(os.Stderr, "healthcheck failed: status", resp.StatusCode)
			os.Exit(1)
		}
	},
}
