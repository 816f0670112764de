package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/domain"
)

// LoginRequest is the credential body accepted by the hub.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the hub's answer to a successful login.
type LoginResponse struct {
	Token     string          `json:"token"`
	User      domain.Identity `json:"user"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Login exchanges credentials for a session. It is the only call that
// does not require one.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	resp, err := c.do(ctx, "", http.MethodPost, "/v1/sessions", LoginRequest{Email: email, Password: password})
	if err != nil {
		return auth.Session{}, err
	}
	var out LoginResponse
	if err := decodeJSON(resp, &out); err != nil {
		return auth.Session{}, fmt.Errorf("login: %w", err)
	}
	return auth.Session{
		Token:     out.Token,
		User:      out.User,
		HubURL:    c.baseURL,
		ExpiresAt: out.ExpiresAt,
	}, nil
}
