package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"conclave/internal/domain"
)

// groups: list live groups plus anything persisted but not live.
func groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List known groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			active := appCtx.Groups.ListActiveGroups()
			live := make(map[domain.GroupID]bool, len(active))
			for _, g := range active {
				live[g.GroupID] = true
				fmt.Printf("%s  epoch %d  members %d\n", g.GroupID, g.Epoch, len(g.Members))
			}
			for _, rec := range appCtx.Groups.ListPersistedGroups(cmd.Context()) {
				if live[rec.GroupID] {
					continue
				}
				state := "stored"
				if !rec.Restorable {
					state = "archived"
				}
				fmt.Printf("%s  epoch %d  %s\n", rec.GroupID, rec.Epoch, state)
			}
			return nil
		},
	}
}
