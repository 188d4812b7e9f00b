package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize codecards storage",
		Long:  "Create the configuration and data directories, write a default config.yaml\nif none exists, then initialize the storage backend.",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := resolveConfigDir()
	if err != nil {
		return systemError("resolve config dir: %w", err)
	}
	written, err := writeConfigIfMissing(configDir, flags.dataDir)
	if err != nil {
		return systemError("write config: %w", err)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	if err := a.close(); err != nil {
		return systemError("finalize storage: %w", err)
	}

	out := cmd.OutOrStdout()
	if written {
		fmt.Fprintf(out, "Wrote %s/%s\n", configDir, configFileExt)
	}
	fmt.Fprintf(out, "Codecards initialized (%s backend, data in %s)\n", a.settings.config.Backend, a.settings.config.DataDir)
	return nil
}
