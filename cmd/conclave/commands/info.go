package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// info <group>: show a group's epoch and roster.
func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <group>",
		Short: "Show a group's epoch and roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := parseGroupArg(args[0])
			if err != nil {
				return err
			}
			info, err := appCtx.Groups.GroupInfo(cmd.Context(), gid)
			if err != nil {
				return err
			}
			fmt.Printf("group %s\nepoch %d\n", info.GroupID, info.Epoch)
			for _, m := range info.Members {
				marker := " "
				if m.Leaf == info.OwnLeaf {
					marker = "*"
				}
				fmt.Printf("%s leaf %d  %s  %s\n", marker, m.Leaf, m.Name, m.Fingerprint)
			}
			return nil
		},
	}
}
