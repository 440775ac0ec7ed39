package swap

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const requestTimeout = 5 * time.Second

// Handler HTTP-обработчики предложений обмена
type Handler struct {
	service *Service
}

// NewHandler создает новый экземпляр Handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateOffer создает новое предложение обмена
func (h *Handler) CreateOffer(c fiber.Ctx) error {
	userID := middleware.UserID(c)

	var requestData struct {
		RequesterID     int64   `json:"requester_id"`
		OwnerID         int64   `json:"owner_id"`
		RequestedBookID int64   `json:"requested_book_id"`
		OfferedBookIDs  []int64 `json:"offered_book_ids"`
		Message         string  `json:"message"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	// Инициатор по умолчанию текущий пользователь
	if requestData.RequesterID == 0 {
		requestData.RequesterID = userID
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := h.service.Propose(ctx, userID, ProposeInput{
		RequesterID:     requestData.RequesterID,
		OwnerID:         requestData.OwnerID,
		RequestedBookID: requestData.RequestedBookID,
		OfferedBookIDs:  requestData.OfferedBookIDs,
		Note:            requestData.Message,
	})
	if err != nil {
		return respondError(c, "Ошибка создания предложения обмена", err)
	}

	return c.Status(fiber.StatusCreated).JSON(resultBody(result, "Предложение обмена успешно создано"))
}

// GetMyOffers получает список предложений обмена пользователя
func (h *Handler) GetMyOffers(c fiber.Ctx) error {
	userID := middleware.UserID(c)

	filter := ListFilter{
		UserID: userID,
		Role:   Role(c.Query("type", string(RoleAll))),
		Status: models.SwapStatus(c.Query("status")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	offers, err := h.service.List(ctx, userID, filter)
	if err != nil {
		return respondError(c, "Ошибка получения предложений обмена", err)
	}

	if offers == nil {
		offers = []models.SwapOffer{}
	}

	return c.JSON(fiber.Map{
		"offers": offers,
		"count":  len(offers),
	})
}

// GetOffer возвращает одно предложение обмена
func (h *Handler) GetOffer(c fiber.Ctx) error {
	userID := middleware.UserID(c)

	offerID, err := parseOfferID(c)
	if err != nil {
		return apperr.Respond(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	offer, err := h.service.Get(ctx, userID, offerID)
	if err != nil {
		return respondError(c, "Ошибка получения предложения обмена", err)
	}

	return c.JSON(fiber.Map{"offer": offer})
}

// UpdateOfferStatus обновляет статус предложения обмена
func (h *Handler) UpdateOfferStatus(c fiber.Ctx) error {
	userID := middleware.UserID(c)

	offerID, err := parseOfferID(c)
	if err != nil {
		return apperr.Respond(c, err)
	}

	var requestData struct {
		Status models.SwapStatus `json:"status"`
		Note   string            `json:"note"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	action, ok := ActionFromStatus(requestData.Status)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный статус. Допустимые значения: accepted, declined, cancelled, completed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := h.service.Transition(ctx, offerID, userID, action, requestData.Note)
	if err != nil {
		return respondError(c, "Ошибка обновления статуса предложения", err)
	}

	return c.JSON(resultBody(result, "Статус предложения обмена успешно обновлен"))
}

func parseOfferID(c fiber.Ctx) (int64, error) {
	offerID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || offerID <= 0 {
		return 0, apperr.Wrap(apperr.ErrInvalidRequest, "Неверный формат ID предложения")
	}
	return offerID, nil
}

func resultBody(result Result, message string) fiber.Map {
	body := fiber.Map{
		"message": message,
		"offer":   result.Offer,
	}
	if result.Partial() {
		body["warnings"] = result.Warnings
	}
	return body
}

func respondError(c fiber.Ctx, operation string, err error) error {
	if apperr.Kind(err) == nil {
		log.Printf("%s: %v", operation, err)
	}
	return apperr.Respond(c, err)
}
