package middleware_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"libreria/internal/middleware"
	"libreria/internal/models"
	"libreria/internal/repositories"
	"libreria/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupApp(t *testing.T) (*fiber.App, string, string) {
	t.Helper()
	ctx := context.Background()
	store := repositories.NewMockStore()
	auth := services.NewAuthService(store.Users(), "test_jwt_secret")

	customer := &models.User{Username: "lector", Email: "lector@example.com", Password: "password123"}
	require.NoError(t, auth.RegisterUser(ctx, customer))
	customerToken, err := auth.LoginUser(ctx, "lector", "password123")
	require.NoError(t, err)

	require.NoError(t, auth.EnsureAdmin(ctx, "admin", "admin@example.com", "password123"))
	adminToken, err := auth.LoginUser(ctx, "admin", "password123")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app := fiber.New()
	protected := app.Group("", middleware.AuthRequired(auth, logger))
	protected.Get("/me", func(c *fiber.Ctx) error {
		actor, _ := middleware.Actor(c)
		return c.JSON(actor)
	})
	protected.Get("/admin", middleware.RequireRole(models.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app, customerToken, adminToken
}

func TestAuthRequired(t *testing.T) {
	app, customerToken, _ := setupApp(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fiber.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", fiber.StatusUnauthorized},
		{"valid token", "Bearer " + customerToken, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRequireRole(t *testing.T) {
	app, customerToken, adminToken := setupApp(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+customerToken)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
