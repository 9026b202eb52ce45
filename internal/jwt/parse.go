package jwt

import (
	"crypto"
	"errors"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Parse valida la firma de token con pub, chequea iss si expectedIss != "" y
// devuelve las claims. Usado para verificar ID tokens emitidos.
func Parse(token string, pub crypto.PublicKey, alg, expectedIss string, opts ...jwtv5.ParserOption) (jwtv5.MapClaims, error) {
	alg = NormalizeAlg(alg)
	opts = append(opts, jwtv5.WithValidMethods([]string{alg}))
	if expectedIss != "" {
		opts = append(opts, jwtv5.WithIssuer(expectedIss))
	}
	tok, err := jwtv5.Parse(token, func(*jwtv5.Token) (any, error) {
		if alg == AlgNone {
			return jwtv5.UnsafeAllowNoneSignatureType, nil
		}
		return pub, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenInvalidIssuer) {
			return nil, ErrInvalidIssuer
		}
		return nil, err
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("jwt: invalid token")
	}
	return claims, nil
}
