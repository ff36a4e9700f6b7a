package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// join <welcome|->: join a group from a welcome addressed to us.
func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <welcome>",
		Short: "Join a group from a welcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readArtifact(args[0])
			if err != nil {
				return err
			}
			gid, err := appCtx.Groups.ProcessWelcome(cmd.Context(), raw)
			if err != nil {
				return err
			}
			fmt.Printf("joined %s\n", gid)
			return nil
		},
	}
}
