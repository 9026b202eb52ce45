// Package logger envuelve zap con scoping por contexto.
//
// # Usage
//
// Inicialización (una vez en main):
//
//	logger.Init(logger.Config{
//	    Env:   cfg.Log.Env,   // "dev" o "prod"
//	    Level: cfg.Log.Level, // "debug", "info", "warn", "error"
//	})
//	defer logger.Sync()
//
// En componentes del core (con contexto):
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("IssueAccessToken"))
//	log.Info("token issued", logger.ClientID(key), logger.GrantType(gt))
//
// Los tests pueden inyectar un logger observado con ToContext.
package logger
