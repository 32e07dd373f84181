package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/codefionn/guise/internal/config"
	"github.com/spf13/cobra"
)

var forceInit bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the effective configuration to the config file",
	Long: `init-config writes the configuration guised would run with (defaults,
then the existing file, then GUISE_* variables and flags) to --config, so
it can be edited by hand.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile, flagEnv(cmd))
		if err != nil {
			return err
		}
		return writeConfig(configFile, cfg, forceInit, cmd.OutOrStdout())
	},
}

func init() {
	initConfigCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initConfigCmd)
}

// writeConfig saves cfg to path. An existing file is only replaced when
// force is set.
func writeConfig(path string, cfg *config.Config, force bool, out io.Writer) error {
	if !force {
		_, err := os.Stat(path)
		if err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}
