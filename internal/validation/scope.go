// Package validation valida valores de protocolo recibidos del caller.
package validation

import "regexp"

// scope-token = 1*NQCHAR, NQCHAR = %x21 / %x23-5B / %x5D-7E (RFC 6749 §3.3).
// Excluye espacio, comillas dobles y backslash. Limitamos a 128 chars.
var scopeTokenRe = regexp.MustCompile(`^[\x21\x23-\x5B\x5D-\x7E]{1,128}$`)

// ValidScopeToken reporta si name es un scope-token válido.
func ValidScopeToken(name string) bool {
	return scopeTokenRe.MatchString(name)
}

// InvalidScopes devuelve los scopes inválidos de la lista (nil si todos son válidos).
func InvalidScopes(scopes []string) []string {
	var bad []string
	for _, s := range scopes {
		if !ValidScopeToken(s) {
			bad = append(bad, s)
		}
	}
	return bad
}
