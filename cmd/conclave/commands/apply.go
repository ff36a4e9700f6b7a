package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"conclave/internal/domain"
)

// apply <group> <commit|->: advance local state with a received commit.
func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <group> <commit>",
		Short: "Apply a commit received from another member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroupArg(args[0])
			if err != nil {
				return err
			}
			raw, err := readArtifact(args[1])
			if err != nil {
				return err
			}
			err = appCtx.Groups.ApplyCommit(cmd.Context(), gid, raw)
			if errors.Is(err, domain.ErrRemovedFromGroup) {
				fmt.Println("removed from group; local state retired")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("applied")
			return nil
		},
	}
}
