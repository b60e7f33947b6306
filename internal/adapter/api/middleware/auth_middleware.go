package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/firebase"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
)

type AuthMiddleware struct {
	verifier firebase.TokenVerifier
}

func NewAuthMiddleware(verifier firebase.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		return m.authenticate(c, next, parts[1])
	}
}

// AuthenticateWebSocket also accepts ?token=, since browsers cannot set
// headers on the upgrade request.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	header := m.Authenticate(next)
	return func(c echo.Context) error {
		if token := c.QueryParam("token"); token != "" && c.Request().Header.Get("Authorization") == "" {
			return m.authenticate(c, next, token)
		}
		return header(c)
	}
}

func (m *AuthMiddleware) authenticate(c echo.Context, next echo.HandlerFunc, token string) error {
	uid, err := m.GetUIDFromToken(c.Request().Context(), token)
	if err != nil {
		return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
	}

	c.Set("uid", uid)
	return next(c)
}

func (m *AuthMiddleware) GetUIDFromToken(ctx context.Context, token string) (string, error) {
	return m.verifier.VerifyToken(ctx, token)
}
