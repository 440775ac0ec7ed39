package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config структура конфигурации
type Config struct {
	Port             string `env:"PORT" envDefault:"8080"`
	WSPort           string `env:"WS_PORT" envDefault:"8081"`
	AppEnv           string `env:"APP_ENV" envDefault:"production"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	JWTSecret        string `env:"JWT_SECRET"`
	OTELEndpoint     string `env:"OTEL_EXPORTER_ENDPOINT"`

	DatabaseConfig   DatabaseConfig
	CloudinaryConfig CloudinaryConfig
	OutboxConfig     OutboxConfig
	SwapConfig       SwapConfig

	// DatabaseURL собирается из DatabaseConfig
	DatabaseURL string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string `env:"PGHOST" envDefault:"localhost"`
	Port     string `env:"PGPORT" envDefault:"5432"`
	User     string `env:"PGUSER" envDefault:"bookswap_user"`
	Password string `env:"PGPASSWORD" envDefault:"bookswap_pass"`
	Name     string `env:"PGDATABASE" envDefault:"bookswap"`
	SSLMode  string `env:"PGSSLMODE" envDefault:"disable"`
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string `env:"CLOUDINARY_CLOUD_NAME"`
	APIKey       string `env:"CLOUDINARY_API_KEY"`
	APISecret    string `env:"CLOUDINARY_API_SECRET"`
	UploadPreset string `env:"CLOUDINARY_UPLOAD_PRESET" envDefault:"bookswap"`
	UploadFolder string `env:"CLOUDINARY_UPLOAD_FOLDER" envDefault:"books"`
}

// OutboxConfig управляет доставкой отложенных побочных эффектов
type OutboxConfig struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
}

// SwapConfig содержит продуктовые настройки обменов
type SwapConfig struct {
	// При принятии обмена помечать проданными и предложенные книги, а не только запрошенную
	MarkOfferedBooksSold bool `env:"SWAP_MARK_OFFERED_BOOKS_SOLD" envDefault:"false"`
}

// ErrMissingSecrets возвращается, когда не заданы обязательные секреты
var ErrMissingSecrets = errors.New("не заданы обязательные переменные окружения")

// LoadConfig загружает переменные из .env и окружения
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	cfg, err := Parse()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}

	return cfg
}

// Parse разбирает окружение в Config и проверяет обязательные поля
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Формируем строку подключения к базе данных
	db := cfg.DatabaseConfig
	cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		db.User, db.Password, db.Host, db.Port, db.Name, db.SSLMode)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" || c.JWTSecret == "" {
		return ErrMissingSecrets
	}
	if c.OutboxConfig.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE должен быть больше нуля")
	}
	return nil
}

// IsDevelopment сообщает, запущено ли приложение локально
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
