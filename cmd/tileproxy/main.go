package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

// For testing
var osExit = os.Exit

var rootCmd = &cobra.Command{
	Use:   "tileproxy",
	Short: "Local map tile proxy and cache",
	Long: `tileproxy serves MapLibre style documents and proxies their tile,
sprite, and glyph requests through a local disk cache, injecting provider
credentials server-side so they never reach the browser.`,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
