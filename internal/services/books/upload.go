package books

import (
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/config"
)

// UploadSigner подписывает параметры прямой загрузки изображений в Cloudinary
type UploadSigner struct {
	cfg config.CloudinaryConfig
	now func() time.Time
}

// NewUploadSigner создает новый экземпляр UploadSigner
func NewUploadSigner(cfg config.CloudinaryConfig) *UploadSigner {
	return &UploadSigner{cfg: cfg, now: time.Now}
}

// Sign возвращает подписанные параметры загрузки в папку группы
func (u *UploadSigner) Sign(uploadGroupID string) (fiber.Map, error) {
	timestamp := strconv.FormatInt(u.now().Unix(), 10)
	folder := u.cfg.UploadFolder + "/" + uploadGroupID

	params := url.Values{}
	params.Set("timestamp", timestamp)
	params.Set("folder", folder)
	if u.cfg.UploadPreset != "" {
		params.Set("upload_preset", u.cfg.UploadPreset)
	}

	signature, err := api.SignParameters(params, u.cfg.APISecret)
	if err != nil {
		return nil, err
	}

	return fiber.Map{
		"timestamp":       timestamp,
		"signature":       signature,
		"api_key":         u.cfg.APIKey,
		"cloud_name":      u.cfg.CloudName,
		"folder":          folder,
		"upload_preset":   u.cfg.UploadPreset,
		"upload_group_id": uploadGroupID,
	}, nil
}

// GenerateUploadParams создаёт параметры для загрузки обложек
func (s *BookService) GenerateUploadParams(c fiber.Ctx) error {
	// Группа загрузки объединяет изображения одной книги до ее создания
	groupID := c.Query("upload_group_id")
	if _, err := uuid.Parse(groupID); err != nil {
		groupID = uuid.New().String()
	}

	params, err := s.uploads.Sign(groupID)
	if err != nil {
		log.Printf("Ошибка подписи параметров Cloudinary: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка подготовки загрузки"})
	}

	return c.JSON(params)
}
