package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/app"
	"github.com/dropDatabas3/tokencore/internal/oauth"
)

func tokenCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Emisión y revocación de tokens",
	}
	cmd.AddCommand(tokenIssueCmd(g), tokenRevokeCmd(g))
	return cmd
}

func tokenIssueCmd(g *globals) *cobra.Command {
	var (
		req   oauth.TokenRequest
		scope string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Emite tokens para un grant type",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Scopes = splitScopes(scope)
			return withContainer(cmd, g, func(ctx context.Context, c *app.Container) error {
				resp := c.Service.IssueAccessToken(ctx, &req)
				if err := printJSON(tokenJSON(resp)); err != nil {
					return err
				}
				if resp.Error {
					return &oauth.Error{Code: resp.ErrorCode, Description: resp.ErrorMsg}
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.GrantType, "grant", "client_credentials", "grant type")
	f.StringVar(&req.ConsumerKey, "client", "", "consumer key")
	f.StringVar(&req.ConsumerSecret, "secret", "", "consumer secret")
	f.StringVar(&req.TenantDomain, "tenant", "", "tenant domain")
	f.StringVar(&scope, "scope", "", "scopes separados por espacio o coma")
	f.StringVar(&req.Username, "username", "", "usuario (password)")
	f.StringVar(&req.Password, "password", "", "password (password)")
	f.StringVar(&req.AuthorizationCode, "code", "", "authorization code")
	f.StringVar(&req.CallbackURI, "redirect-uri", "", "callback (authorization_code)")
	f.StringVar(&req.CodeVerifier, "code-verifier", "", "PKCE code verifier")
	f.StringVar(&req.RefreshToken, "refresh-token", "", "refresh token")
	f.StringVar(&req.Assertion, "assertion", "", "JWT assertion (jwt-bearer)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func tokenRevokeCmd(g *globals) *cobra.Command {
	var req oauth.RevocationRequest
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoca un access o refresh token (RFC 7009)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, g, func(ctx context.Context, c *app.Container) error {
				resp := c.Service.RevokeTokenByOAuthClient(ctx, &req)
				if err := printJSON(revocationJSON(resp)); err != nil {
					return err
				}
				if resp.Error {
					return &oauth.Error{Code: resp.ErrorCode, Description: resp.ErrorMsg}
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ConsumerKey, "client", "", "consumer key")
	f.StringVar(&req.ConsumerSecret, "secret", "", "consumer secret")
	f.StringVar(&req.Token, "token", "", "token a revocar")
	f.StringVar(&req.TokenTypeHint, "hint", "", "access_token | refresh_token")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

// tokenJSON da forma RFC 6749 §5.1 / §5.2 a la respuesta.
func tokenJSON(r *oauth.TokenResponse) map[string]any {
	if r.Error {
		return map[string]any{"error": r.ErrorCode, "error_description": r.ErrorMsg}
	}
	out := map[string]any{
		"access_token": r.AccessToken,
		"token_type":   r.TokenType,
		"expires_in":   r.ExpiresIn,
		"scope":        strings.Join(r.Scopes, " "),
	}
	if r.RefreshToken != "" {
		out["refresh_token"] = r.RefreshToken
		out["refresh_expires_in"] = r.RefreshExpiresIn
	}
	if r.IDToken != "" {
		out["id_token"] = r.IDToken
	}
	return out
}

func revocationJSON(r *oauth.RevocationResponse) map[string]any {
	if r.Error {
		return map[string]any{"error": r.ErrorCode, "error_description": r.ErrorMsg}
	}
	out := map[string]any{"revoked": r.Revoked}
	if len(r.Headers) > 0 {
		out["headers"] = r.Headers
	}
	return out
}
