package oauth

import (
	"github.com/dropDatabas3/tokencore/internal/domain/repository"
	"github.com/dropDatabas3/tokencore/internal/security/password"
)

// AuthenticateClient verifica el secret presentado contra el registrado
// (hash bcrypt / argon2id o valor plano, comparado en tiempo constante).
// Los clientes públicos no tienen secret y solo autentican sin presentarlo.
func AuthenticateClient(app *repository.ClientApplication, secret string) bool {
	if app == nil {
		return false
	}
	stored := app.ConsumerSecret
	if stored == "" {
		return app.Public && secret == ""
	}
	if secret == "" {
		return false
	}
	return password.Match(secret, stored)
}
