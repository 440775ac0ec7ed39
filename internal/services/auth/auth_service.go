package auth

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	jsoniter "github.com/json-iterator/go"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

const initDataExpiration = 24 * time.Hour

// Accounts хранилище учетных записей
type Accounts interface {
	CreateOrUpdateTelegramUser(ctx context.Context, tg db.TelegramUser) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// AuthService – структура для обработки авторизации
type AuthService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	accounts   Accounts

	validate func(initData, token string, expIn time.Duration) error
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, jwtService *utils.JWTService, accounts Accounts) *AuthService {
	return &AuthService{
		cfg:        cfg,
		jwtService: jwtService,
		accounts:   accounts,
		validate:   initdata.Validate,
	}
}

// TelegramAuthHandler проверяет initData, сохраняет пользователя и возвращает JWT
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Проверяем initData
	if err := s.validate(payload.InitData, s.cfg.TelegramBotToken, initDataExpiration); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Telegram data"})
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}
	if data.User.ID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "initData does not contain user"})
	}

	rawData, err := jsoniter.ConfigFastest.Marshal(data.User)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to encode Telegram user"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.accounts.CreateOrUpdateTelegramUser(ctx, db.TelegramUser{
		TelegramID:   data.User.ID,
		Username:     data.User.Username,
		FirstName:    data.User.FirstName,
		LastName:     data.User.LastName,
		PhotoURL:     data.User.PhotoURL,
		IsPremium:    data.User.IsPremium,
		LanguageCode: data.User.LanguageCode,
		RawData:      rawData,
	})
	if err != nil {
		log.Printf("Ошибка сохранения пользователя Telegram %d: %v", data.User.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save user"})
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate JWT"})
	}

	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  user,
	})
}

// ProfileHandler возвращает профиль текущего пользователя
func (s *AuthService) ProfileHandler(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.accounts.GetUser(ctx, userID)
	if err != nil {
		if apperr.Kind(err) == nil {
			log.Printf("Ошибка получения профиля %d: %v", userID, err)
		}
		return apperr.Respond(c, err)
	}

	return c.JSON(fiber.Map{
		"user":      user,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
