package favorite

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

type memFavorites struct {
	books map[int64]models.Book
	saved map[[2]int64]bool
}

func (m *memFavorites) AddFavorite(_ context.Context, userID, bookID int64) (bool, error) {
	if _, ok := m.books[bookID]; !ok {
		return false, apperr.ErrNotFound
	}
	key := [2]int64{userID, bookID}
	if m.saved[key] {
		return false, nil
	}
	m.saved[key] = true
	return true, nil
}

func (m *memFavorites) RemoveFavorite(_ context.Context, userID, bookID int64) error {
	key := [2]int64{userID, bookID}
	if !m.saved[key] {
		return apperr.ErrNotFound
	}
	delete(m.saved, key)
	return nil
}

func (m *memFavorites) IsFavorite(_ context.Context, userID, bookID int64) (bool, error) {
	return m.saved[[2]int64{userID, bookID}], nil
}

func (m *memFavorites) ListFavorites(_ context.Context, userID int64) ([]models.Book, error) {
	out := []models.Book{}
	for key := range m.saved {
		if key[0] == userID {
			out = append(out, m.books[key[1]])
		}
	}
	return out, nil
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func Test_Favorites_Lifecycle(t *testing.T) {
	// arrange
	store := &memFavorites{
		books: map[int64]models.Book{10: {ID: 10, Title: "Линейная алгебра"}},
		saved: map[[2]int64]bool{},
	}
	app := fiber.New()
	userAuth := func(c fiber.Ctx) error {
		middleware.WithUserID(c, 1)
		return c.Next()
	}
	NewFavoriteService(store).SetupRoutes(app, userAuth)

	// act & assert
	status, _ := do(t, app, http.MethodPost, "/api/favorites", `{"book_id": 10}`)
	assert.Equal(t, fiber.StatusCreated, status)

	status, _ = do(t, app, http.MethodPost, "/api/favorites", `{"book_id": 10}`)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = do(t, app, http.MethodPost, "/api/favorites", `{"book_id": 99}`)
	assert.Equal(t, fiber.StatusNotFound, status)

	_, body := do(t, app, http.MethodGet, "/api/favorites/10/check", "")
	assert.JSONEq(t, `{"is_favorite": true}`, body)

	_, body = do(t, app, http.MethodGet, "/api/favorites", "")
	assert.Contains(t, body, "Линейная алгебра")

	status, _ = do(t, app, http.MethodDelete, "/api/favorites/10", "")
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = do(t, app, http.MethodDelete, "/api/favorites/10", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func Test_Favorites_RejectsBadInput(t *testing.T) {
	store := &memFavorites{books: map[int64]models.Book{}, saved: map[[2]int64]bool{}}
	app := fiber.New()
	var caller int64
	auth := func(c fiber.Ctx) error {
		middleware.WithUserID(c, caller)
		return c.Next()
	}
	NewFavoriteService(store).SetupRoutes(app, auth)

	caller = 1
	status, _ := do(t, app, http.MethodGet, "/api/favorites/abc/check", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/api/favorites", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	caller = 0
	status, _ = do(t, app, http.MethodGet, "/api/favorites", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, http.MethodDelete, "/api/favorites/10", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
