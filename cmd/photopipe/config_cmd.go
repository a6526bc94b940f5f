package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"photopipe/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage photopipe configuration. Subcommands allow viewing the effective
configuration and writing a starter config file.`,
		Example: `  photopipe config show
  photopipe config init ~/.config/photopipe/photopipe.json`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration in JSON: the loaded config file
merged over the built-in defaults.`,
		Example: `  photopipe config show
  photopipe config show --config /etc/photopipe/photopipe.json`,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := json.MarshalIndent(globalCfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Long: `Write a config file populated with the defaults for editing. Without a
path the file goes to ~/.config/photopipe/photopipe.json.`,
		Example: `  photopipe config init
  photopipe config init /etc/photopipe/photopipe.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: configInitRun,
	}
}

func configInitRun(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		if found, err := config.FindConfigFile(); err == nil {
			return fmt.Errorf("config file already exists: %s", found)
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "photopipe", "photopipe.json")
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Println("Wrote starter config to", path)
	fmt.Println("Edit destination.host, destination.user, and destination.wake_mac before sending.")
	return nil
}
