// Package auth define las claims del staff y el verificador de tokens que
// implementan los adapters de identidad.
package auth

import "context"

// Claims del staff autenticado. UserID es el editor_id que queda en la auditoría.
type Claims struct {
	UserID   string
	Name     string
	Email    string
	TenantID string
}

// DisplayName devuelve el nombre legible o, si falta, el email.
func (c Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// AuthVerifier verifica un bearer token; nil en el router significa modo dev.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
