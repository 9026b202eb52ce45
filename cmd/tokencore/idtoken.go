package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/app"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/oauth"
)

func idTokenCmd(g *globals) *cobra.Command {
	var (
		client, user, tenant, scope, nonce, acr string
		audiences                               []string
	)
	cmd := &cobra.Command{
		Use:   "idtoken",
		Short: "Construye y firma un ID token para un usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := repository.ParseUserKey(user)
			if u.TenantDomain == "" {
				u.TenantDomain = tenant
			}
			u.AuthTime = time.Now()
			return withContainer(cmd, g, func(ctx context.Context, c *app.Container) error {
				tok, err := c.Service.BuildIDToken(ctx, oauth.IDTokenContext{
					ConsumerKey:  client,
					TenantDomain: u.TenantDomain,
					User:         u,
					Scopes:       splitScopes(scope),
					Nonce:        nonce,
					ACR:          acr,
					Audiences:    audiences,
				})
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&client, "client", "", "consumer key (aud / azp)")
	f.StringVar(&user, "user", "", "usuario: [USERSTORE/]sub[@tenant]")
	f.StringVar(&tenant, "tenant", "carbon.super", "tenant por defecto")
	f.StringVar(&scope, "scope", "openid", "scopes")
	f.StringVar(&nonce, "nonce", "", "nonce")
	f.StringVar(&acr, "acr", "", "acr")
	f.StringSliceVar(&audiences, "aud", nil, "audiencias extra")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
