package oauth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/audit"
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/util"
)

// EventInterceptor recibe los eventos de revocación por cliente.
//
// El pre-hook corre antes de cualquier mutación: si falla, la revocación se
// aborta. El post-hook corre después del commit y recibe el par revocado
// (refresh puede ser nil).
type EventInterceptor interface {
	Enabled() bool
	OnPreTokenRevocationByClient(ctx context.Context, req *RevocationRequest) error
	OnPostTokenRevocationByClient(ctx context.Context, req *RevocationRequest, resp *RevocationResponse,
		access *repository.AccessTokenRecord, refresh *repository.RefreshTokenValidationRecord) error
}

// Chain combina interceptores. El pre-hook corta en el primer error; el
// post-hook corre todos y junta los errores.
type Chain []EventInterceptor

func (c Chain) Enabled() bool {
	for _, i := range c {
		if i != nil && i.Enabled() {
			return true
		}
	}
	return false
}

func (c Chain) OnPreTokenRevocationByClient(ctx context.Context, req *RevocationRequest) error {
	for _, i := range c {
		if i == nil || !i.Enabled() {
			continue
		}
		if err := i.OnPreTokenRevocationByClient(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) OnPostTokenRevocationByClient(ctx context.Context, req *RevocationRequest, resp *RevocationResponse,
	access *repository.AccessTokenRecord, refresh *repository.RefreshTokenValidationRecord) error {
	var errs []error
	for _, i := range c {
		if i == nil || !i.Enabled() {
			continue
		}
		if err := i.OnPostTokenRevocationByClient(ctx, req, resp, access, refresh); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoggingInterceptor deja un evento de auditoría por cada revocación.
// Nunca falla.
type LoggingInterceptor struct {
	Log *zap.Logger // nil = logger del contexto
}

func (LoggingInterceptor) Enabled() bool { return true }

func (l LoggingInterceptor) ctx(ctx context.Context) context.Context {
	if l.Log != nil {
		return logger.ToContext(ctx, l.Log)
	}
	return ctx
}

func (l LoggingInterceptor) OnPreTokenRevocationByClient(ctx context.Context, req *RevocationRequest) error {
	audit.Log(l.ctx(ctx), audit.EventRevocationRequested,
		logger.ClientID(req.ConsumerKey),
		logger.TokenHint(req.TokenTypeHint),
		logger.String("token", util.MaskToken(req.Token)),
	)
	return nil
}

func (l LoggingInterceptor) OnPostTokenRevocationByClient(ctx context.Context, req *RevocationRequest, resp *RevocationResponse,
	access *repository.AccessTokenRecord, refresh *repository.RefreshTokenValidationRecord) error {
	if !resp.Revoked {
		audit.Log(l.ctx(ctx), audit.EventRevocationNoop, logger.ClientID(req.ConsumerKey))
		return nil
	}
	fields := []zap.Field{logger.ClientID(req.ConsumerKey)}
	if access != nil {
		fields = append(fields,
			logger.TokenID(access.TokenID),
			logger.UserID(util.MaskEmail(access.AuthzUser.Key())),
			logger.String("scope", access.ScopeString()),
		)
	}
	fields = append(fields, logger.Bool("refresh_revoked", refresh != nil))
	audit.Log(l.ctx(ctx), audit.EventTokensRevoked, fields...)
	return nil
}
