package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/directory/fs"
)

func userCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Operaciones sobre usuarios del directorio",
	}

	var (
		u        fs.User
		tenant   string
		password string
		claims   []string
	)
	register := &cobra.Command{
		Use:   "register",
		Short: "Crea o reemplaza un usuario (password con bcrypt)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TOKENCORE_USER_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("--password o TOKENCORE_USER_PASSWORD es obligatorio")
			}
			parsed, err := parseClaims(claims)
			if err != nil {
				return err
			}
			u.Claims = parsed
			dir := fs.New(g.cfg.Directory.Root)
			if err := dir.UpsertUser(cmd.Context(), tenant, u, password); err != nil {
				return err
			}
			return printJSON(map[string]any{
				"username":          u.Username,
				"user_store_domain": u.UserStoreDomain,
				"tenant":            tenant,
				"claims":            len(u.Claims),
			})
		},
	}
	fl := register.Flags()
	fl.StringVar(&u.Username, "username", "", "usuario")
	fl.StringVar(&password, "password", "", "password (env TOKENCORE_USER_PASSWORD)")
	fl.StringVar(&u.UserStoreDomain, "user-store", "", "user store domain")
	fl.StringVar(&tenant, "tenant", fs.DefaultTenant, "tenant")
	fl.BoolVar(&u.Disabled, "disabled", false, "registrar deshabilitado")
	fl.StringArrayVar(&claims, "claim", nil, "claim key=value (repetible)")
	_ = register.MarkFlagRequired("username")

	cmd.AddCommand(register)
	return cmd
}

// parseClaims convierte "key=value" en un map; sin claims devuelve nil.
func parseClaims(kv []string) (map[string]any, error) {
	if len(kv) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kv))
	for _, s := range kv {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("claim inválido %q: se espera key=value", s)
		}
		out[k] = v
	}
	return out, nil
}
