package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Algoritmos de firma soportados para ID tokens.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
	AlgEdDSA = "EdDSA"
	AlgNone  = "none"
)

// Signer firma un claim set y devuelve el JWT compacto.
type Signer interface {
	Sign(claims jwtv5.MapClaims) (string, error)
	Algorithm() string
	KeyID() string
	PublicKey() crypto.PublicKey
}

// NormalizeAlg devuelve el nombre canónico (JOSE) de un algoritmo.
func NormalizeAlg(alg string) string {
	switch a := strings.TrimSpace(alg); strings.ToUpper(a) {
	case "EDDSA", "ED25519":
		return AlgEdDSA
	case "NONE", "":
		return AlgNone
	default:
		return strings.ToUpper(a)
	}
}

// SigningMethod resuelve el método de golang-jwt para un algoritmo.
func SigningMethod(alg string) (jwtv5.SigningMethod, error) {
	alg = NormalizeAlg(alg)
	if alg == AlgNone {
		return jwtv5.SigningMethodNone, nil
	}
	m := jwtv5.GetSigningMethod(alg)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	return m, nil
}

type keySigner struct {
	method jwtv5.SigningMethod
	key    crypto.Signer
	kid    string
}

// NewSigner crea un Signer validando que la clave corresponda al algoritmo.
func NewSigner(alg string, key crypto.Signer, kid string) (Signer, error) {
	alg = NormalizeAlg(alg)
	if alg == AlgNone {
		return NoneSigner{}, nil
	}
	m, err := SigningMethod(alg)
	if err != nil {
		return nil, err
	}
	if err := checkKeyType(alg, key); err != nil {
		return nil, err
	}
	return &keySigner{method: m, key: key, kid: kid}, nil
}

func checkKeyType(alg string, key crypto.Signer) error {
	if len(alg) < 2 {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	var ok bool
	switch alg[:2] {
	case "RS", "PS":
		_, ok = key.(*rsa.PrivateKey)
	case "ES":
		_, ok = key.(*ecdsa.PrivateKey)
	case "Ed":
		_, ok = key.(ed25519.PrivateKey)
	}
	if !ok {
		return fmt.Errorf("%w: %T for %s", ErrKeyMismatch, key, alg)
	}
	return nil
}

func (s *keySigner) Sign(claims jwtv5.MapClaims) (string, error) {
	tk := jwtv5.NewWithClaims(s.method, claims)
	if s.kid != "" {
		tk.Header["kid"] = s.kid
	}
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%s signing failed: %w", s.method.Alg(), err)
	}
	return signed, nil
}

func (s *keySigner) Algorithm() string           { return s.method.Alg() }
func (s *keySigner) KeyID() string               { return s.kid }
func (s *keySigner) PublicKey() crypto.PublicKey { return s.key.Public() }

// NoneSigner produce JWTs sin firma (alg=none). Solo para entornos de prueba
// o consumidores que validan por canal.
type NoneSigner struct{}

func (NoneSigner) Sign(claims jwtv5.MapClaims) (string, error) {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(jwtv5.UnsafeAllowNoneSignatureType)
}

func (NoneSigner) Algorithm() string           { return AlgNone }
func (NoneSigner) KeyID() string               { return "" }
func (NoneSigner) PublicKey() crypto.PublicKey { return nil }
