package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orcd/portalctl/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the deployment document",
		Long: `Load and validate the deployment document without touching the target.

Every violation is reported in one pass, so a document can be fixed in a
single edit rather than one field at a time.`,
		Example: `  portalctl validate --config deploy.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			violations := config.NewDeployRuleset().Validate(cfg)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				out := make([]map[string]string, 0, len(violations))
				for _, v := range violations {
					out = append(out, map[string]string{"key": v.Key, "reason": v.Reason})
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				for _, v := range violations {
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
			}

			if len(violations) > 0 {
				return fmt.Errorf("configuration has %d violation(s)", len(violations))
			}
			if !jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			}
			return nil
		},
	}

	return cmd
}
