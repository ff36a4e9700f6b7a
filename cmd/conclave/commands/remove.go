package commands

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"conclave/internal/domain"
)

// remove <group> <leaf>: blank a member's leaf.
func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <group> <leaf>",
		Short: "Remove a member by leaf index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroupArg(args[0])
			if err != nil {
				return err
			}
			leaf, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("parse leaf index: %w", err)
			}
			commit, err := appCtx.Groups.RemoveMember(cmd.Context(), gid, domain.LeafIndex(leaf))
			if err != nil {
				return err
			}
			fmt.Printf("Commit (send to remaining members):\n%s\n", hex.EncodeToString(commit))
			return nil
		},
	}
}
