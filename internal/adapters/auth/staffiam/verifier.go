package staffiam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tnr-records/internal/ports/auth"
)

var ErrTokenEmpty = errors.New("token is empty")

// Verifier implementa auth.AuthVerifier sobre el IAM de staff.
type Verifier struct {
	client *Client
}

var _ auth.AuthVerifier = (*Verifier)(nil)

func NewVerifier(client *Client) *Verifier {
	return &Verifier{client: client}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	claims, err := v.client.VerifyToken(ctx, token)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("staff iam verify failed: %w", err)
	}
	return claims, nil
}
