package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"conclave/internal/crypto"
	"conclave/internal/protocol/wire"
)

// init <name>: create the identity and print its first key package.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "Create your identity and first key package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := appCtx.Identity.CreateIdentity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			kp, err := wire.DecodeKeyPackage(raw)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\nKey package (hand to whoever adds you):\n%s\n",
				crypto.Fingerprint(kp.SignatureKey.Slice()), hex.EncodeToString(raw))
			return nil
		},
	}
}
