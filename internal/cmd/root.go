// Package cmd wires the worker's cobra/viper CLI, following the layout of
// jpequegn-benchflow/internal/cmd: a root command with persistent
// config/verbose flags, subcommands doing the real work.
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "judgeworker",
	Short: "Sandboxed code-judging worker",
	Long: `judgeworker consumes code submissions from a durable AMQP queue,
compiles and runs them inside isolate sandboxes against testcases, and
publishes a verdict back to the submitting queue.`,
	Version: versionString,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./judgeworker.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads an optional YAML config file and re-exports recognised
// keys as environment variables so core.Load's existing os.Getenv-based
// Config stays the single source of truth; only the discovery of *where*
// settings come from changes, not how they are consumed downstream.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("judgeworker")
	}

	viper.SetEnvPrefix("JUDGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
		}
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("config file changed: %s", e.Name)
			exportTunables()
		})
		exportTunables()
	}
}

// exportTunables pushes the tunable settings from viper into the process
// environment, at startup and again on every config-file change. The run
// command reads the environment through core.Load once when it starts, so
// a change made after startup takes effect on the next start. Broker
// credentials and queue names are not included here.
func exportTunables() {
	setIfPresent("max_concurrent_submissions", "MAX_CONCURRENT_SUBMISSIONS")
	setIfPresent("max_parallel_testcases", "MAX_PARALLEL_TESTCASES")
	setIfPresent("memory_threshold", "MEMORY_THRESHOLD")
	setIfPresent("cpu_threshold", "CPU_THRESHOLD")
	setIfPresent("adaptive_mode", "ADAPTIVE_MODE")
}

func setIfPresent(viperKey, envName string) {
	if viper.IsSet(viperKey) {
		_ = os.Setenv(envName, fmt.Sprintf("%v", viper.Get(viperKey)))
	}
}
