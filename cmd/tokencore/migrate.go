package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/store/pg"
	migrations "github.com/dropDatabas3/tokencore/migrations/postgres"
)

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones SQL embebidas (storage.driver=postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver=postgres (actual: %q)", g.cfg.Storage.Driver)
			}
			ctx := cmd.Context()
			s, err := pg.Connect(ctx, g.cfg.Storage.DSN, pg.Config{
				MaxOpenConns: g.cfg.Storage.Postgres.MaxOpenConns,
				MaxIdleConns: g.cfg.Storage.Postgres.MaxIdleConns,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := pg.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, s.Pool())
			if err != nil {
				return err
			}
			logger.L().Info("migrations done",
				logger.Any("applied", res.Applied),
				logger.Count(len(res.Skipped)),
				logger.Duration(res.Duration),
			)
			return printJSON(res)
		},
	}
}
