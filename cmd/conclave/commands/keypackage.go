package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// keypackage: mint a fresh single-use key package.
func keyPackageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keypackage",
		Short: "Mint a fresh single-use key package",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := appCtx.Identity.NewKeyPackage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(raw))
			return nil
		},
	}
}
