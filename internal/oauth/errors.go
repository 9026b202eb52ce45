package oauth

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
)

// ErrorCode es un código de error OAuth2 (RFC 6749 §5.2 / RFC 7009).
type ErrorCode string

const (
	CodeInvalidClient           ErrorCode = "invalid_client"
	CodeInvalidRequest          ErrorCode = "invalid_request"
	CodeInvalidGrant            ErrorCode = "invalid_grant"
	CodeInvalidScope            ErrorCode = "invalid_scope"
	CodeInvalidCallback         ErrorCode = "invalid_callback"
	CodeUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	CodeUnsupportedResponseType ErrorCode = "unsupported_response_type"
	CodeUnauthorizedClient      ErrorCode = "unauthorized_client"
	CodeServerError             ErrorCode = "server_error"
)

// Mensajes visibles para el caller.
const (
	MsgInvalidClient            = "Invalid Client"
	MsgInvalidRequest           = "Missing request"
	MsgInvalidRevocationRequest = "Invalid revocation request"
	MsgUnauthorizedClient       = "Unauthorized Client"
	MsgRevocationFailed         = "Error occurred while revoking authorization grant for applications"
	MsgServerError              = "Server error occurred while processing the request"
	MsgCallbackMismatch         = "Registered callback does not match with the provided url"
)

// Error es un error de protocolo: código + descripción para el caller, y la
// causa interna (solo para logs).
type Error struct {
	Code        ErrorCode
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError crea un Error sin causa.
func NewError(code ErrorCode, desc string) *Error {
	return &Error{Code: code, Description: desc}
}

// WrapError crea un Error con causa interna.
func WrapError(code ErrorCode, desc string, err error) *Error {
	return &Error{Code: code, Description: desc, Err: err}
}

// AsError convierte cualquier error en un error de protocolo. Lo que no es
// un error de protocolo conocido termina en server_error sin detalle.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	var tbe *TokenBuildError
	if errors.As(err, &tbe) {
		return WrapError(CodeServerError, MsgServerError, err)
	}
	switch {
	case errors.Is(err, repository.ErrInvalidClient):
		return WrapError(CodeInvalidClient, MsgInvalidClient, err)
	case errors.Is(err, repository.ErrInvalidCredentials):
		return WrapError(CodeInvalidGrant, "Invalid resource owner credentials", err)
	case errors.Is(err, repository.ErrTokenInactive):
		return WrapError(CodeInvalidGrant, "Token is not active", err)
	}
	return WrapError(CodeServerError, MsgServerError, err)
}

// TokenBuildError indica que no se pudo construir o firmar un ID token.
type TokenBuildError struct {
	Reason string
	Err    error
}

func (e *TokenBuildError) Error() string {
	if e.Err != nil {
		return "id token build: " + e.Reason + ": " + e.Err.Error()
	}
	return "id token build: " + e.Reason
}

func (e *TokenBuildError) Unwrap() error { return e.Err }

func buildErr(reason string, err error) error {
	return &TokenBuildError{Reason: reason, Err: err}
}
