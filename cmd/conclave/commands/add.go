package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// add <group> <keypackage|->: admit the package's owner to the group.
func addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <group> <keypackage>",
		Short: "Add a member from their key package",
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
			bundle, err := appCtx.Groups.AddMember(cmd.Context(), gid, raw)
			if err != nil {
				return err
			}
			fmt.Printf("Commit (send to current members):\n%s\nWelcome (send to the new member):\n%s\n",
				hex.EncodeToString(bundle.Commit), hex.EncodeToString(bundle.Welcome))
			return nil
		},
	}
}
