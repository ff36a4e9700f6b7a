package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// checkpoint: persist every live group now.
func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Persist every live group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Groups.Checkpoint(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("checkpointed")
			return nil
		},
	}
}
