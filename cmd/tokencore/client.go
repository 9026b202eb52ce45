package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/app"
	"github.com/dropDatabas3/tokencore/internal/directory/fs"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/oauth"
	pwd "github.com/dropDatabas3/tokencore/internal/security/password"
)

func clientCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Operaciones sobre clientes OAuth",
	}

	var key, callback string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Valida un cliente y su callback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, g, func(ctx context.Context, c *app.Container) error {
				res := c.Service.ValidateClientInfo(ctx, key, callback)
				out := map[string]any{
					"valid":        res.Valid,
					"callback_url": res.CallbackURL,
					"pkce":         c.Service.IsPKCESupportEnabled(),
				}
				if !res.Valid {
					out["error"] = res.ErrorCode
					out["error_description"] = res.ErrorMsg
				}
				if res.Application != nil {
					out["application"] = res.Application.ApplicationName
					out["grant_types"] = res.Application.GrantTypes
				}
				if err := printJSON(out); err != nil {
					return err
				}
				if !res.Valid {
					return &oauth.Error{Code: res.ErrorCode, Description: res.ErrorMsg}
				}
				return nil
			})
		},
	}
	validate.Flags().StringVar(&key, "client", "", "consumer key")
	validate.Flags().StringVar(&callback, "redirect-uri", "", "callback a validar")
	_ = validate.MarkFlagRequired("client")

	cmd.AddCommand(validate, clientRegisterCmd(g))
	return cmd
}

func clientRegisterCmd(g *globals) *cobra.Command {
	var (
		ca        repository.ClientApplication
		secret    string
		audiences string
	)
	register := &cobra.Command{
		Use:   "register",
		Short: "Crea o reemplaza un cliente en el directorio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ca.GrantTypes = strings.Join(splitScopes(ca.GrantTypes), " ")
			ca.Audiences = splitScopes(audiences)
			if !ca.Public {
				if secret == "" {
					return &oauth.Error{Code: oauth.CodeInvalidRequest, Description: "--secret es obligatorio para clientes confidenciales"}
				}
				// el directorio acepta secret plano o bcrypt; se guarda hasheado
				h, err := pwd.HashBcrypt(secret)
				if err != nil {
					return err
				}
				ca.ConsumerSecret = h
			}
			dir := fs.New(g.cfg.Directory.Root)
			if err := dir.UpsertClient(cmd.Context(), ca); err != nil {
				return err
			}
			return printJSON(map[string]any{
				"client":      ca.ConsumerKey,
				"tenant":      ca.TenantDomain,
				"grant_types": ca.GrantTypes,
				"public":      ca.Public,
			})
		},
	}
	fl := register.Flags()
	fl.StringVar(&ca.ConsumerKey, "client", "", "consumer key")
	fl.StringVar(&secret, "secret", "", "consumer secret (se guarda como bcrypt)")
	fl.StringVar(&ca.ApplicationName, "name", "", "nombre de la aplicación")
	fl.StringVar(&ca.GrantTypes, "grant-types", "authorization_code refresh_token", "grant types separados por espacio o coma")
	fl.StringVar(&ca.CallbackURL, "redirect-uri", "", "callback (admite regexp=...)")
	fl.StringVar(&ca.Owner, "owner", "", "usuario dueño de la aplicación")
	fl.StringVar(&ca.TenantDomain, "tenant", fs.DefaultTenant, "tenant")
	fl.BoolVar(&ca.Public, "public", false, "cliente público (sin secret, requiere PKCE)")
	fl.StringVar(&audiences, "audiences", "", "audiences extra del ID token")
	_ = register.MarkFlagRequired("client")
	return register
}
