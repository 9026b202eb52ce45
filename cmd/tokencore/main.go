// Command tokencore expone el core OAuth2/OIDC por línea de comandos:
// migraciones, generación de claves y operaciones de token.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/app"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
)

var version = "dev"

type globals struct {
	configPath string
	envFile    string
	cfg        *config.Config
}

func main() {
	g := &globals{}
	root := &cobra.Command{
		Use:           "tokencore",
		Short:         "Core de emisión y revocación de tokens OAuth2/OIDC",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.envFile != "" {
				// .env es opcional
				_ = godotenv.Load(g.envFile)
			}
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			g.cfg = cfg
			logger.Init(logger.Config{
				Env:         cfg.Log.Env,
				Level:       cfg.Log.Level,
				ServiceName: "tokencore",
				Version:     version,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("TOKENCORE_CONFIG"), "ruta al config YAML (env TOKENCORE_CONFIG)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "ruta a .env")

	root.AddCommand(
		migrateCmd(g),
		keygenCmd(),
		tokenCmd(g),
		clientCmd(g),
		userCmd(g),
		idTokenCmd(g),
		encryptCmd(g),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withContainer arma el Container para un comando y lo cierra al terminar.
func withContainer(cmd *cobra.Command, g *globals, fn func(ctx context.Context, c *app.Container) error) error {
	ctx := logger.ToContext(cmd.Context(), logger.L())
	c, err := app.Build(ctx, g.cfg, app.Options{})
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitScopes(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}
