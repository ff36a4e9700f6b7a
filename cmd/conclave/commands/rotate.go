package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// rotate <group>: replace our own leaf key, healing a suspected compromise.
func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <group>",
		Short: "Rotate your own leaf key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroupArg(args[0])
			if err != nil {
				return err
			}
			commit, err := appCtx.Groups.UpdateKey(cmd.Context(), gid)
			if err != nil {
				return err
			}
			fmt.Printf("Commit (send to other members):\n%s\n", hex.EncodeToString(commit))
			return nil
		},
	}
}
