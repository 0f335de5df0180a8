package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/cpid/configs"
	"github.com/Aman-CERP/cpid/internal/config"
	"github.com/Aman-CERP/cpid/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config ($XDG_CONFIG_HOME/cpid/config.yaml)
  3. Environment variables (CPID_*)
  4. Command-line flags`,
		Example: `  # Create user config from template
  cpid config init

  # Show effective configuration
  cpid config show`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Args:  cobra.NoArgs,
		// The file may not exist yet, so it is not loaded first.
		PersistentPreRunE:  skipSetup,
		PersistentPostRunE: skipSetup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				return output.NewPretty(cmd.OutOrStdout()).JSON(appConfig)
			}
			data, err := yaml.Marshal(appConfig)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		PersistentPreRunE:  skipSetup,
		PersistentPostRunE: skipSetup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output.New(cmd.OutOrStdout()).Line(userConfigPath())
			return nil
		},
	}
}

// userConfigPath is the file config init writes: --config when given.
func userConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.GetUserConfigPath()
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := userConfigPath()

	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("User configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to overwrite it with the template")
		return nil
	}

	backup, err := config.BackupFile(path)
	if err != nil {
		return err
	}
	if backup != "" {
		out.Statusf("💾", "Backed up previous configuration to %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Status("", "Run 'cpid config show' to verify")
	return nil
}
