package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appVersion = "0.1.0"

var (
	flagDebug  bool
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use:   "promptloom",
	Short: "Multi-role prompt refinement orchestrator",
	Long: `promptloom runs three dialogue roles against a language model to turn
an informal goal into a reviewed, approved prompt. It exposes session
control as MCP tools over stdio or HTTP/SSE.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("promptloom v%s\n", appVersion)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
