package main

import (
	"fmt"
	"os"

	"github.com/codefionn/guise/internal/config"
	"github.com/spf13/cobra"
)

var (
	nvimAddress string
	configFile  string
	logLevel    string
	logPath     string
)

// rootCmd runs the daemon attached to one Neovim instance.
var rootCmd = &cobra.Command{
	Use:   "guised",
	Short: "Open files from external tools in a running Neovim and wait for them",
	Long: `guised attaches to a running Neovim and serves open/edit requests from
external processes on three loopback listeners:

- GUISE_VIM_ADDRESS:   Vim JSON channel protocol
- GUISE_NVIM_ADDRESS:  msgpack-rpc
- GUISE_PROXY_ADDRESS: single-shot proxy protocol used by guise-proxy

The addresses are exported to Neovim so :terminal jobs inherit them. An edit
request returns once the buffer it opened is wiped or Neovim exits.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&nvimAddress, "nvim", os.Getenv("NVIM"), "Neovim listen address (unix socket path or host:port)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.GetConfigPath(), "Configuration file (JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-path", "", "Log file path")
}
