package jwt

import (
	"crypto"
	_ "crypto/sha256" // registra SHA-256 para crypto.Hash.New
	_ "crypto/sha512" // registra SHA-384/512
	"encoding/base64"
	"fmt"
)

// DigestFor mapea un algoritmo de firma al hash usado en at_hash / c_hash.
func DigestFor(alg string) (crypto.Hash, error) {
	alg = NormalizeAlg(alg)
	switch alg {
	case AlgNone:
		return crypto.SHA256, nil
	case AlgEdDSA:
		return crypto.SHA512, nil
	}
	if len(alg) != 5 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	switch alg[:2] {
	case "RS", "PS", "ES", "HS":
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	switch alg[2:] {
	case "256":
		return crypto.SHA256, nil
	case "384":
		return crypto.SHA384, nil
	case "512":
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
}

// HalfHash computa base64url(mitad izquierda de digest(value)), el formato de
// at_hash y c_hash.
func HalfHash(alg, value string) (string, error) {
	h, err := DigestFor(alg)
	if err != nil {
		return "", err
	}
	d := h.New()
	d.Write([]byte(value))
	sum := d.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
