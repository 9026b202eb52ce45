package jwt

import "errors"

var (
	ErrUnsupportedAlg = errors.New("jwt: unsupported algorithm")
	ErrKeyMismatch    = errors.New("jwt: key type does not match algorithm")
	ErrNoKey          = errors.New("jwt: no signing key for tenant")
	ErrInvalidIssuer  = errors.New("jwt: invalid issuer")
)
