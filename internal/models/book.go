package models

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// BookStatus статус книги в каталоге
type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookPending   BookStatus = "pending"
	BookSold      BookStatus = "sold"
)

// Valid проверяет, что статус входит в допустимый набор
func (s BookStatus) Valid() bool {
	switch s {
	case BookAvailable, BookPending, BookSold:
		return true
	}
	return false
}

// Book представляет учебник, выставленный пользователем
type Book struct {
	ID          int64       `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Title       string      `json:"title"`
	Author      string      `json:"author,omitempty"`
	Course      string      `json:"course,omitempty"`
	ISBN        string      `json:"isbn,omitempty"`
	Condition   string      `json:"condition"`
	Description string      `json:"description,omitempty"`
	Price       float64     `json:"price"`
	AllowSwap   bool        `json:"allow_swap"`
	Status      BookStatus  `json:"status"`
	Images      []BookImage `json:"images"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// BookImage представляет изображение обложки
type BookImage struct {
	ID         int64  `json:"id"`
	BookID     int64  `json:"book_id"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url,omitempty"`
	PublicID   string `json:"public_id"`
	IsMain     bool   `json:"is_main"`
	Position   int    `json:"position"`
}

// CloudinaryResponse представляет нужную часть ответа от Cloudinary API
type CloudinaryResponse struct {
	AssetID   string  `json:"asset_id"`
	PublicID  string  `json:"public_id"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Bytes     int     `json:"bytes"`
	SecureURL string  `json:"secure_url"`
	Eager     []Eager `json:"eager"`
}

// Eager содержит информацию о трансформациях изображения
type Eager struct {
	Status    string `json:"status"`
	SecureURL string `json:"secure_url"`
}

// ExtractPreviewURL извлекает URL превью из ответа Cloudinary
func ExtractPreviewURL(cr CloudinaryResponse) string {
	for _, eager := range cr.Eager {
		if eager.Status == "processing" || eager.Status == "completed" {
			return eager.SecureURL
		}
	}
	return ""
}

// ParseCloudinaryResponse конвертирует JSON-ответ от Cloudinary в структуру
func ParseCloudinaryResponse(raw []byte) (CloudinaryResponse, error) {
	var response CloudinaryResponse
	err := jsoniter.ConfigFastest.Unmarshal(raw, &response)
	return response, err
}
