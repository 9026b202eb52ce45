// Package repository define los registros de tokens y los contratos de los
// colaboradores externos del core OAuth2/OIDC.
//
// Estas interfaces son independientes del almacenamiento subyacente. Las
// implementaciones concretas viven en internal/store (tokens) e
// internal/directory (clientes, usuarios, identity providers).
//
//	┌─────────────────────────────────────────────────────┐
//	│                 internal/oauth                      │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  TokenStore, ClientDirectory, IdentityDirectory     │
//	└─────────────────────────────────────────────────────┘
//	          │                               │
//	          ▼                               ▼
//	┌──────────────────────┐      ┌──────────────────────┐
//	│ store/memory, pg     │      │ directory/fs, Cached │
//	└──────────────────────┘      └──────────────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Los valores de token viajan como hash (lookup) + forma persistida
//   - Errores de dominio están en errors.go
package repository
