package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (ej: token duplicado).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidClient indica un cliente deshabilitado o un fallo recuperable
	// del lookup. Se mapea a invalid_client, nunca a server_error.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidCredentials indica usuario/password incorrectos.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInactive indica que el token/code ya no está ACTIVE.
	ErrTokenInactive = errors.New("token inactive")

	// ErrIrreversible indica que el processor no puede recuperar el valor crudo.
	ErrIrreversible = errors.New("irreversible token processor")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
