package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// create [name]: start a new group, optionally from a suggested name.
func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Start a new group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var suggestion string
			if len(args) == 1 {
				suggestion = args[0]
			}
			gid, err := appCtx.Groups.CreateGroup(cmd.Context(), suggestion)
			if err != nil {
				return err
			}
			fmt.Println(gid)
			return nil
		},
	}
}
