package swap

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const testUserHeader = "X-Test-User"

type offerResponse struct {
	Message  string           `json:"message"`
	Offer    models.SwapOffer `json:"offer"`
	Warnings []Warning        `json:"warnings"`
	Error    string           `json:"error"`
}

type listResponse struct {
	Offers []models.SwapOffer `json:"offers"`
	Count  int                `json:"count"`
}

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	fakeAuth := func(c fiber.Ctx) error {
		if raw := c.Get(testUserHeader); raw != "" {
			userID, _ := strconv.ParseInt(raw, 10, 64)
			middleware.WithUserID(c, userID)
		}
		return c.Next()
	}
	NewHandler(f.service).SetupRoutes(app, fakeAuth)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, userID int64, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(testUserHeader, strconv.FormatInt(userID, 10))
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &v), string(data))
	return v
}

func Test_Handler_OfferLifecycle(t *testing.T) {
	// arrange
	f := newFixture()
	app := newTestApp(f)

	// act & assert: создание
	status, data := doRequest(t, app, http.MethodPost, "/api/swap-offers", 1,
		`{"owner_id": 2, "requested_book_id": 10, "offered_book_ids": [20, 21], "message": "Привет!"}`)
	require.Equal(t, fiber.StatusCreated, status, string(data))
	created := decode[offerResponse](t, data)
	assert.Equal(t, "1_2_10", created.Offer.ChatID)
	assert.Equal(t, "Привет!", created.Offer.MessageToOwner)
	offerPath := "/api/swap-offers/" + strconv.FormatInt(created.Offer.ID, 10)

	// инициатор не может принять собственное предложение
	status, data = doRequest(t, app, http.MethodPut, offerPath+"/status", 1, `{"status": "accepted"}`)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.NotEmpty(t, decode[offerResponse](t, data).Error)

	// владелец принимает
	status, data = doRequest(t, app, http.MethodPut, offerPath+"/status", 2, `{"status": "accepted", "note": "Завтра в 10"}`)
	require.Equal(t, fiber.StatusOK, status, string(data))
	accepted := decode[offerResponse](t, data)
	assert.Equal(t, models.SwapAccepted, accepted.Offer.Status)
	assert.Equal(t, "Завтра в 10", accepted.Offer.MessageToRequester)
	assert.Empty(t, accepted.Warnings)

	// повторный переход
	status, _ = doRequest(t, app, http.MethodPut, offerPath+"/status", 2, `{"status": "declined"}`)
	assert.Equal(t, fiber.StatusConflict, status)

	// чтение участником
	status, data = doRequest(t, app, http.MethodGet, offerPath, 1, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.SwapAccepted, decode[offerResponse](t, data).Offer.Status)
}

func Test_Handler_ListOffers(t *testing.T) {
	f := newFixture()
	app := newTestApp(f)
	_, err := f.propose(1, 2, 10, 20)
	require.NoError(t, err)

	status, data := doRequest(t, app, http.MethodGet, "/api/swap-offers?type=incoming", 2, "")
	require.Equal(t, fiber.StatusOK, status)
	incoming := decode[listResponse](t, data)

	status, data = doRequest(t, app, http.MethodGet, "/api/swap-offers?type=incoming", 1, "")
	require.Equal(t, fiber.StatusOK, status)
	none := decode[listResponse](t, data)

	status, _ = doRequest(t, app, http.MethodGet, "/api/swap-offers?status=lost", 1, "")

	assert.Equal(t, 1, incoming.Count)
	assert.Equal(t, 0, none.Count)
	assert.NotNil(t, none.Offers)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func Test_Handler_ErrorMapping(t *testing.T) {
	f := newFixture()
	app := newTestApp(f)

	tests := []struct {
		name   string
		method string
		path   string
		userID int64
		body   string
		want   int
	}{
		{"anonymous propose", http.MethodPost, "/api/swap-offers", 0, `{"owner_id": 2, "requested_book_id": 10, "offered_book_ids": [20]}`, fiber.StatusUnauthorized},
		{"empty offered books", http.MethodPost, "/api/swap-offers", 1, `{"owner_id": 2, "requested_book_id": 10, "offered_book_ids": []}`, fiber.StatusBadRequest},
		{"self swap", http.MethodPost, "/api/swap-offers", 1, `{"owner_id": 1, "requested_book_id": 20, "offered_book_ids": [21]}`, fiber.StatusBadRequest},
		{"propose for someone else", http.MethodPost, "/api/swap-offers", 3, `{"requester_id": 1, "owner_id": 2, "requested_book_id": 10, "offered_book_ids": [20]}`, fiber.StatusForbidden},
		{"malformed body", http.MethodPost, "/api/swap-offers", 1, `{"owner_id": "two"`, fiber.StatusBadRequest},
		{"unknown offer", http.MethodGet, "/api/swap-offers/404", 1, "", fiber.StatusNotFound},
		{"bad offer id", http.MethodGet, "/api/swap-offers/abc", 1, "", fiber.StatusBadRequest},
		{"pending is not a target status", http.MethodPut, "/api/swap-offers/1/status", 2, `{"status": "pending"}`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := doRequest(t, app, tt.method, tt.path, tt.userID, tt.body)

			assert.Equal(t, tt.want, status, string(data))
		})
	}
}

func Test_Handler_ReturnsWarningsOnPartialFailure(t *testing.T) {
	// arrange
	f := newFixture()
	app := newTestApp(f)
	proposed, err := f.propose(1, 2, 10, 20)
	require.NoError(t, err)
	f.chat.setAppendErr(errors.New("chat is down"))

	// act
	status, data := doRequest(t, app, http.MethodPut,
		"/api/swap-offers/"+strconv.FormatInt(proposed.Offer.ID, 10)+"/status", 2, `{"status": "declined"}`)

	// assert
	require.Equal(t, fiber.StatusOK, status, string(data))
	body := decode[offerResponse](t, data)
	assert.Equal(t, models.SwapDeclined, body.Offer.Status)
	require.Len(t, body.Warnings, 1)
	assert.Equal(t, "partial_failure", body.Warnings[0].Kind)
	assert.Equal(t, models.OutboxChatNotification, body.Warnings[0].Effect)
}
