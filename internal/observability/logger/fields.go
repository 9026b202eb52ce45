package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── Protocolo ───

// ClientID crea un campo para el consumer key del cliente OAuth.
func ClientID(v string) zap.Field { return zap.String("client_id", v) }

// GrantType crea un campo para el grant type del token request.
func GrantType(v string) zap.Field { return zap.String("grant_type", v) }

// ResponseType crea un campo para el response type del authorize request.
func ResponseType(v string) zap.Field { return zap.String("response_type", v) }

// TokenHint crea un campo para el token_type_hint de revocación.
func TokenHint(v string) zap.Field { return zap.String("token_type_hint", v) }

// TokenID crea un campo para el id interno de un token (nunca el valor).
func TokenID(v string) zap.Field { return zap.String("token_id", v) }

// TenantDomain crea un campo para el tenant.
func TenantDomain(v string) zap.Field { return zap.String("tenant_domain", v) }

// UserID crea un campo para el usuario autorizado.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// ErrorCode crea un campo para el código de error OAuth devuelto.
func ErrorCode(v string) zap.Field { return zap.String("error_code", v) }

// ─── Sistema ───

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (service, store, cache).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ─── Genéricos ───

func Count(v int) zap.Field             { return zap.Int("count", v) }
func Key(v string) zap.Field            { return zap.String("key", v) }
func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
