// Package password verifica secrets de clientes y passwords de usuarios
// contra hashes bcrypt o argon2id (PHC).
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmpty se devuelve al hashear un valor vacío.
var ErrEmpty = errors.New("password: empty value")

type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

var Default = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, KeyLen: 32}

const argonPrefix = "$argon2id$"

// IsBcrypt reporta si s tiene forma de hash bcrypt.
func IsBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// IsArgon2id reporta si s es un PHC string argon2id.
func IsArgon2id(s string) bool { return strings.HasPrefix(s, argonPrefix) }

// IsHash reporta si s es un hash soportado.
func IsHash(s string) bool { return IsBcrypt(s) || IsArgon2id(s) }

// Hash devuelve un PHC string: $argon2id$v=19$m=...,t=...,p=...$<saltB64>$<dkB64>
func Hash(p Params, plain string) (string, error) {
	if plain == "" {
		return "", ErrEmpty
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}

// HashBcrypt hashea con bcrypt.DefaultCost.
func HashBcrypt(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmpty
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify compara plain contra un hash bcrypt o argon2id. Un valor que no es
// hash nunca verifica.
func Verify(plain, hash string) bool {
	switch {
	case IsBcrypt(hash):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	case IsArgon2id(hash):
		return verifyArgon2id(plain, hash)
	default:
		return false
	}
}

// Match es Verify para valores hasheados y comparación en tiempo constante
// para valores planos (secrets de clientes registrados sin hash).
func Match(plain, stored string) bool {
	if IsHash(stored) {
		return Verify(plain, stored)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1
}

func verifyArgon2id(plain, phc string) bool {
	// $argon2id$v=19$m=..,t=..,p=..$salt$dk
	parts := strings.Split(phc, "$")
	if len(parts) != 6 {
		return false
	}
	var v int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &v); err != nil || v != argon2.Version {
		return false
	}
	var m, t, p int
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil || m <= 0 || t <= 0 || p <= 0 || p > 255 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	dkStored, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(dkStored) == 0 {
		return false
	}
	key := argon2.IDKey([]byte(plain), salt, uint32(t), uint32(m), uint8(p), uint32(len(dkStored)))
	return subtle.ConstantTimeCompare(key, dkStored) == 1
}
