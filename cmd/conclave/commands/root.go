package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"conclave/internal/app"
	"conclave/internal/domain"
)

var (
	home       string
	passphrase string
	backend    string
	verbose    bool

	appCtx *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:           "conclave",
		Short:         "End-to-end encrypted group session CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ConfigFromEnv()
			if err != nil {
				return err
			}
			if home != "" {
				cfg.Home = home
			}
			if passphrase != "" {
				cfg.Passphrase = passphrase
			}
			if backend != "" {
				cfg.Backend = backend
			}
			if verbose {
				cfg.Verbose = true
			}

			level := zerolog.WarnLevel
			if cfg.Verbose {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()

			appCtx, err = app.Build(cmd.Context(), cfg, log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.conclave)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting stored state")
	root.PersistentFlags().StringVar(&backend, "store", "", "storage backend: file or sqlite")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(), keyPackageCmd(), createCmd(), addCmd(), removeCmd(),
		rotateCmd(), applyCmd(), joinCmd(), sendCmd(), recvCmd(),
		groupsCmd(), infoCmd(), checkpointCmd(),
	)
	return root.Execute()
}

// readArtifact decodes a hex wire artifact from the argument, or from
// stdin when the argument is "-".
func readArtifact(arg string) ([]byte, error) {
	s := arg
	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		s = string(b)
	}
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return b, nil
}

func parseGroupArg(arg string) (domain.GroupID, error) {
	return domain.ParseGroupID(strings.TrimSpace(arg))
}
