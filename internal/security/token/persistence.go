package tokens

import (
	"fmt"
	"strings"

	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
)

// PersistenceProcessor transforma valores de token entre su forma cruda
// y la forma que se guarda en el store.
type PersistenceProcessor interface {
	// ProcessedToken devuelve la forma persistida de raw.
	ProcessedToken(raw string) (string, error)
	// PreprocessedToken recupera el valor crudo. Retorna
	// repository.ErrIrreversible si el processor no lo permite.
	PreprocessedToken(stored string) (string, error)
}

// PlainProcessor guarda los valores tal cual.
type PlainProcessor struct{}

func (PlainProcessor) ProcessedToken(raw string) (string, error)       { return raw, nil }
func (PlainProcessor) PreprocessedToken(stored string) (string, error) { return stored, nil }

// EncryptedProcessor cifra los valores con un secretbox.Box.
type EncryptedProcessor struct {
	Box *secretbox.Box
}

func (p EncryptedProcessor) ProcessedToken(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	return p.Box.Encrypt(raw)
}

func (p EncryptedProcessor) PreprocessedToken(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	return p.Box.Decrypt(stored)
}

// HashingProcessor guarda solo el hash; el valor crudo no es recuperable.
type HashingProcessor struct{}

func (HashingProcessor) ProcessedToken(raw string) (string, error) { return Hash(raw), nil }

func (HashingProcessor) PreprocessedToken(string) (string, error) {
	return "", repository.ErrIrreversible
}

// NewProcessor resuelve un processor por nombre de config. box solo se usa
// para "encrypted".
func NewProcessor(name string, box *secretbox.Box) (PersistenceProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain":
		return PlainProcessor{}, nil
	case "encrypted":
		if box == nil {
			return nil, fmt.Errorf("tokens: encrypted processor requires a secretbox key")
		}
		return EncryptedProcessor{Box: box}, nil
	case "hashing":
		return HashingProcessor{}, nil
	default:
		return nil, fmt.Errorf("tokens: unknown persistence processor %q", name)
	}
}
