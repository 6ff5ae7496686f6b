// Package commands implements the magicctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// httpClient issues requests against magicd's control-plane HTTP API,
// initialized in rootCmd's PersistentPreRunE once serverAddr is known.
var httpClient *apiClient

// outputFormat controls the output format for all commands (table or json).
var outputFormat string

// serverAddr is the magicd control-plane address (host:port).
var serverAddr string

// rootCmd is the top-level cobra command for magicctl.
var rootCmd = &cobra.Command{
	Use:   "magicctl",
	Short: "CLI client for the MAGIC link management daemon",
	Long:  "magicctl communicates with magicd's control-plane HTTP API to manage multi-link sessions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = newAPIClient("http://"+serverAddr, &http.Client{Timeout: 10 * time.Second})
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"magicd control-plane address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
