package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// KeySet es una clave de firma con su KID y algoritmo.
type KeySet struct {
	Priv crypto.Signer
	KID  string
	Alg  string
}

// GenerateKeySet genera una clave en memoria apropiada para alg.
func GenerateKeySet(alg, kid string) (*KeySet, error) {
	alg = NormalizeAlg(alg)
	var (
		priv crypto.Signer
		err  error
	)
	switch alg {
	case AlgEdDSA:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case AlgRS256, AlgRS384, AlgRS512, AlgPS256, AlgPS384, AlgPS512:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	case AlgES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case AlgES384:
		priv, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case AlgES512:
		priv, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	if err != nil {
		return nil, err
	}
	return &KeySet{Priv: priv, KID: kid, Alg: alg}, nil
}

// Signer devuelve un Signer para esta clave.
func (k *KeySet) Signer() (Signer, error) {
	return NewSigner(k.Alg, k.Priv, k.KID)
}

// ─── PEM ───

// MarshalPEM serializa la clave privada en PKCS#8.
func (k *KeySet) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseKeySetPEM lee una clave privada PEM (PKCS#8, PKCS#1 o EC).
func ParseKeySetPEM(data []byte, alg, kid string) (*KeySet, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("jwt: failed to decode PEM block")
	}
	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("jwt: parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("jwt: %T is not a signing key", key)
	}
	alg = NormalizeAlg(alg)
	if alg != AlgNone {
		if err := checkKeyType(alg, signer); err != nil {
			return nil, err
		}
	}
	return &KeySet{Priv: signer, KID: kid, Alg: alg}, nil
}

// ─── JWKS (serialización) ───

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON devuelve el JWKS (solo las públicas) en JSON.
func JWKSJSON(sets ...*KeySet) ([]byte, error) {
	out := jwks{Keys: make([]jwk, 0, len(sets))}
	for _, k := range sets {
		j := jwk{Kid: k.KID, Alg: k.Alg, Use: "sig"}
		switch pub := k.Priv.Public().(type) {
		case ed25519.PublicKey:
			j.Kty, j.Crv = "OKP", "Ed25519"
			j.X = b64(pub)
		case *rsa.PublicKey:
			j.Kty = "RSA"
			j.N = b64(pub.N.Bytes())
			j.E = b64(big.NewInt(int64(pub.E)).Bytes())
		case *ecdsa.PublicKey:
			j.Kty, j.Crv = "EC", pub.Curve.Params().Name
			size := (pub.Curve.Params().BitSize + 7) / 8
			j.X = b64(pub.X.FillBytes(make([]byte, size)))
			j.Y = b64(pub.Y.FillBytes(make([]byte, size)))
		default:
			return nil, fmt.Errorf("jwt: unsupported public key %T", pub)
		}
		out.Keys = append(out.Keys, j)
	}
	return json.Marshal(out)
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
