package staffiam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tnr-records/internal/platform/httpclient"
	"tnr-records/internal/ports/auth"
)

var (
	ErrNotConfigured = errors.New("staff iam client not configured")
	ErrUnauthorized  = errors.New("staff iam unauthorized")
	ErrUpstream      = errors.New("staff iam upstream error")
)

const verifyPath = "/v1/tokens/verify"

// Config del cliente IAM. Viene de IAM_BASE_URL / IAM_API_KEY.
type Config struct {
	BaseURL string
	APIKey  string

	// Si está vacío se usa "X-Api-Key".
	APIKeyHeader string

	Timeout time.Duration
}

type Client struct {
	apiKey string
	http   *httpclient.Client
}

func NewClient(cfg Config, opts ...httpclient.Option) (*Client, error) {
	h := strings.TrimSpace(cfg.APIKeyHeader)
	if h == "" {
		h = "X-Api-Key"
	}
	key := strings.TrimSpace(cfg.APIKey)
	opts = append([]httpclient.Option{httpclient.WithHeader(h, key)}, opts...)

	hc, err := httpclient.New(cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{apiKey: key, http: hc}, nil
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.http.BaseURL() != "" && c.apiKey != ""
}

type verifyResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	TenantID    string `json:"tenant_id"`
}

// VerifyToken valida el token del staff contra el IAM y devuelve sus claims.
func (c *Client) VerifyToken(ctx context.Context, token string) (auth.Claims, error) {
	if !c.IsConfigured() {
		return auth.Claims{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrUnauthorized
	}

	var out verifyResponse
	err := c.http.PostJSON(ctx, verifyPath,
		map[string]string{"Authorization": "Bearer " + token},
		map[string]string{"token": token},
		&out,
	)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.Unauthorized() {
			return auth.Claims{}, ErrUnauthorized
		}
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	out.UserID = strings.TrimSpace(out.UserID)
	if out.UserID == "" {
		return auth.Claims{}, fmt.Errorf("%w: response missing user_id", ErrUpstream)
	}

	return auth.Claims{
		UserID:   out.UserID,
		Name:     strings.TrimSpace(out.DisplayName),
		Email:    strings.TrimSpace(out.Email),
		TenantID: strings.TrimSpace(out.TenantID),
	}, nil
}
