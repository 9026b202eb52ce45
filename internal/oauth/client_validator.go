package oauth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
)

// ClientValidationResult es el resultado de validar (client, callback).
type ClientValidationResult struct {
	Valid       bool
	ErrorCode   ErrorCode
	ErrorMsg    string
	Application *repository.ClientApplication
	// CallbackURL es el callback efectivo (el registrado cuando no se envió uno).
	CallbackURL string
	GrantTypes  map[string]struct{}
}

// ClientValidator resuelve clientes y valida callbacks. Solo lectura.
type ClientValidator struct {
	clients repository.ClientDirectory

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewClientValidator crea un validador sobre el directorio de clientes.
func NewClientValidator(clients repository.ClientDirectory) *ClientValidator {
	return &ClientValidator{clients: clients, patterns: map[string]*regexp.Regexp{}}
}

// ResolveClient busca el cliente y mapea fallos del lookup: not found,
// deshabilitado o recuperable → invalid_client; el resto → server_error.
func (v *ClientValidator) ResolveClient(ctx context.Context, consumerKey string) (*repository.ClientApplication, *Error) {
	if strings.TrimSpace(consumerKey) == "" {
		return nil, NewError(CodeInvalidClient, MsgInvalidClient)
	}
	app, err := v.clients.GetApplication(ctx, consumerKey)
	switch {
	case err == nil && app != nil:
		return app, nil
	case err == nil, errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidClient):
		return nil, WrapError(CodeInvalidClient, MsgInvalidClient, err)
	default:
		return nil, WrapError(CodeServerError, MsgServerError, err)
	}
}

// Validate valida que el cliente exista, tenga grant types y que el
// callback coincida con el registrado.
func (v *ClientValidator) Validate(ctx context.Context, consumerKey, callbackURI string) ClientValidationResult {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.client.validate"), logger.ClientID(consumerKey))

	app, oe := v.ResolveClient(ctx, consumerKey)
	if oe != nil {
		if oe.Code == CodeServerError {
			log.Error("client lookup failed", logger.Err(oe.Err))
		} else {
			log.Debug("client not resolved", logger.Err(oe.Err))
		}
		return ClientValidationResult{ErrorCode: oe.Code, ErrorMsg: oe.Description}
	}

	grants := app.GrantTypeSet()
	if len(grants) == 0 {
		log.Warn("client has no grant types")
		return ClientValidationResult{
			ErrorCode:   CodeUnauthorizedClient,
			ErrorMsg:    "Client is not allowed to use any grant type",
			Application: app,
		}
	}

	cb, ok := v.MatchCallback(app.CallbackURL, callbackURI)
	if !ok {
		log.Debug("callback mismatch", logger.String("callback", callbackURI))
		return ClientValidationResult{
			ErrorCode:   CodeInvalidCallback,
			ErrorMsg:    MsgCallbackMismatch,
			Application: app,
			GrantTypes:  grants,
		}
	}
	return ClientValidationResult{Valid: true, Application: app, CallbackURL: cb, GrantTypes: grants}
}

// MatchCallback compara supplied contra el callback registrado. Un valor
// registrado con prefijo "regexp=" se evalúa como patrón anclado a todo el
// string. Sin callback se acepta el único callback literal registrado.
func (v *ClientValidator) MatchCallback(registered, supplied string) (string, bool) {
	registered = strings.TrimSpace(registered)
	if supplied == "" {
		if registered == "" || strings.HasPrefix(registered, repository.CallbackRegexPrefix) {
			return "", false
		}
		return registered, true
	}
	if registered == "" {
		return "", false
	}
	if pattern, ok := strings.CutPrefix(registered, repository.CallbackRegexPrefix); ok {
		re := v.compile(pattern)
		if re == nil {
			return "", false
		}
		return supplied, re.MatchString(supplied)
	}
	return supplied, registered == supplied
}

func (v *ClientValidator) compile(pattern string) *regexp.Regexp {
	v.mu.RLock()
	re, ok := v.patterns[pattern]
	v.mu.RUnlock()
	if ok {
		return re
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		re = nil
	}
	v.mu.Lock()
	v.patterns[pattern] = re
	v.mu.Unlock()
	return re
}
