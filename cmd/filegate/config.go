package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"filegate/gateway/internal/envutil"
	"filegate/gateway/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change persisted settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings after environment and flag overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return render(cmd.OutOrStdout(), current.cfg, func(w io.Writer) {
			fmt.Fprintf(w, "# %s\n", current.configPath)
			data, err := yaml.Marshal(current.cfg)
			if err != nil {
				fmt.Fprintf(w, "# marshal failed: %v\n", err)
				return
			}
			_, _ = w.Write(data)
		})
	},
}

var configApprovalCmd = &cobra.Command{
	Use:   "set-approval <on|off>",
	Short: "Persist whether agent writes are staged until promoted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "on", "off", "true", "false", "1", "0", "yes", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		enabled := envutil.ParseBool(args[0])
		saved, err := settings.NewStore(current.configPath).Update(func(s *settings.Settings) {
			s.SetRequireApproval(enabled)
		})
		if err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		current.logger.Info("settings.saved", "path", current.configPath, "require_approval", saved.ApprovalRequired())
		return render(cmd.OutOrStdout(), map[string]any{"require_approval": saved.ApprovalRequired()}, func(w io.Writer) {
			fmt.Fprintf(w, "require_approval: %t (%s)\n", saved.ApprovalRequired(), current.configPath)
		})
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configApprovalCmd)
	rootCmd.AddCommand(configCmd)
}
