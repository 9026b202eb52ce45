// Package audit emite eventos de auditoría estructurados sobre el logger
// "audit", separado del log operativo.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/observability/logger"
)

// Eventos conocidos.
const (
	EventRevocationRequested = "oauth.revocation.requested"
	EventTokensRevoked       = "oauth.tokens.revoked"
	EventRevocationNoop      = "oauth.revocation.noop"
)

// Log escribe un evento de auditoría con el logger del contexto.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Named("audit").Info(event, append(fields, zap.String("event", event))...)
}
