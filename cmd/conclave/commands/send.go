package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// send <group> <message>: seal a message to the group.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <group> <message>",
		Short: "Encrypt a message to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroupArg(args[0])
			if err != nil {
				return err
			}
			sealed, err := appCtx.Messages.Encrypt(cmd.Context(), gid, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(sealed))
			return nil
		},
	}
}
