package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// recv <group> <ciphertext|->: open a message from the group.
func recvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recv <group> <ciphertext>",
		Short: "Decrypt a message from a group",
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
			plaintext, err := appCtx.Messages.Decrypt(cmd.Context(), gid, raw)
			if err != nil {
				return err
			}
			fmt.Println(string(plaintext))
			return nil
		},
	}
}
