package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/jwt"
)

func keygenCmd() *cobra.Command {
	var alg, kid, out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una clave de firma (PEM PKCS#8) y muestra su JWKS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := jwt.GenerateKeySet(alg, kid)
			if err != nil {
				return err
			}
			pem, err := ks.MarshalPEM()
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				fmt.Print(string(pem))
			} else if err := os.WriteFile(out, pem, 0o600); err != nil {
				return err
			}
			jwks, err := jwt.JWKSJSON(ks)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, string(jwks))
			return nil
		},
	}
	cmd.Flags().StringVar(&alg, "alg", jwt.AlgRS256, "algoritmo (RS256, PS256, ES256, EdDSA, ...)")
	cmd.Flags().StringVar(&kid, "kid", "default", "key id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "archivo PEM de salida (default stdout)")
	return cmd
}
