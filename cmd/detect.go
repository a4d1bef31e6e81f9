package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newDetectCmd creates the 'detect' subcommand, which fetches a URL once
// without pacing and reports the bot-protection vendor guarding it.
func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <url>",
		Short: "Identify the bot protection in front of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := appInstance.Orchestrator().DetectBotProtection(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("detect %s: %w", args[0], err)
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(d); err != nil {
				return fmt.Errorf("write detection: %w", err)
			}
			return nil
		},
	}
}
