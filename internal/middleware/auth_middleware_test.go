package middleware

import (
	"io"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

func newProtectedApp(jwtService *utils.JWTService) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthMiddleware(jwtService), func(c fiber.Ctx) error {
		return c.SendString(strconv.FormatInt(UserID(c), 10))
	})
	return app
}

func Test_AuthMiddleware_StoresUserID(t *testing.T) {
	// arrange
	jwtService := utils.NewJWTService("secret")
	token, err := jwtService.GenerateToken(15)
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	// act
	resp, err := newProtectedApp(jwtService).Test(req)

	// assert
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "15", string(body))
}

func Test_AuthMiddleware_RejectsBadHeaders(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	app := newProtectedApp(jwtService)

	for name, header := range map[string]string{
		"missing":   "",
		"no bearer": "Token abc",
		"garbage":   "Bearer abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}

			resp, err := app.Test(req)

			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func Test_UserID_ReturnsZeroWithoutAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString(strconv.FormatInt(UserID(c), 10))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))

	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "0", string(body))
}
