package tokens

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// ValueGenerator produce valores de token impredecibles.
type ValueGenerator interface {
	GenerateValue() (string, error)
}

// GeneratorFunc adapta una función a ValueGenerator.
type GeneratorFunc func() (string, error)

func (f GeneratorFunc) GenerateValue() (string, error) { return f() }

// OpaqueGenerator genera N bytes de crypto/rand en base64url.
type OpaqueGenerator struct {
	Bytes int
}

func (g OpaqueGenerator) GenerateValue() (string, error) {
	n := g.Bytes
	if n <= 0 {
		n = 32
	}
	return GenerateOpaqueToken(n)
}

// UUIDGenerator genera UUID v4.
type UUIDGenerator struct{}

func (UUIDGenerator) GenerateValue() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// KSUIDGenerator genera KSUIDs (ordenables por tiempo, 128 bits aleatorios).
type KSUIDGenerator struct{}

func (KSUIDGenerator) GenerateValue() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewGenerator resuelve un generador por nombre de config.
func NewGenerator(name string) (ValueGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "opaque":
		return OpaqueGenerator{Bytes: 32}, nil
	case "uuid":
		return UUIDGenerator{}, nil
	case "ksuid":
		return KSUIDGenerator{}, nil
	default:
		return nil, fmt.Errorf("tokens: unknown value generator %q", name)
	}
}
