package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/app"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
)

func encryptCmd(g *globals) *cobra.Command {
	var fromEnv string
	cmd := &cobra.Command{
		Use:   "encrypt [valor]",
		Short: "Cifra un valor con la master key (ej: storage.dsn como enc:<...>)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plain string
			switch {
			case len(args) == 1:
				plain = args[0]
			case fromEnv != "":
				plain = os.Getenv(fromEnv)
			}
			if strings.TrimSpace(plain) == "" {
				return fmt.Errorf("nada para cifrar: pasá un valor o --from-env")
			}
			key := g.cfg.Security.SecretBoxMasterKey
			if key == "" {
				key = os.Getenv(secretbox.EnvVar)
			}
			box, err := secretbox.NewFromString(key)
			if err != nil {
				return err
			}
			enc, err := box.Encrypt(plain)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			fmt.Println(app.EncryptedPrefix + enc)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "leer el valor de esta variable de entorno (ej: STORAGE_DSN)")
	return cmd
}
