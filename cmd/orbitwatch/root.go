package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orbitwatch",
	Short: "Satellite conjunction detection and maneuver planning",
	Long:  "orbitwatch screens protected satellites against a tracked-object catalog, classifies conjunctions, and plans collision-avoidance maneuvers.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to service configuration YAML")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(screenCmd)
}

func main() {
	Execute()
}
