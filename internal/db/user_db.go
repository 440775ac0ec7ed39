package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// TelegramUser данные пользователя из Telegram
type TelegramUser struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	PhotoURL     string
	IsPremium    bool
	LanguageCode string
	RawData      []byte // JSONB данные
}

// UserStore хранилище пользователей
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore создает новый экземпляр UserStore
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// CreateOrUpdateTelegramUser создает нового пользователя через Telegram или обновляет существующего
func (s *UserStore) CreateOrUpdateTelegramUser(ctx context.Context, tg TelegramUser) (models.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, tg.TelegramID).Scan(&userID)

	switch {
	case err == pgx.ErrNoRows:
		err = tx.QueryRow(ctx, `
			INSERT INTO users (first_name, last_name, username, avatar_url, last_login_at)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			RETURNING id
		`, tg.FirstName, tg.LastName, tg.Username, tg.PhotoURL).Scan(&userID)
		if err != nil {
			return models.User{}, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, userID, tg.TelegramID, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, tg.RawData)
		if err != nil {
			return models.User{}, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}

	case err != nil:
		return models.User{}, fmt.Errorf("ошибка при проверке существования пользователя Telegram: %w", err)

	default:
		// Профиль в Telegram мог измениться с прошлого входа
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET username = $1, first_name = $2, last_name = $3, avatar_url = $4,
				last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = $5
		`, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, userID)
		if err != nil {
			return models.User{}, fmt.Errorf("ошибка при обновлении пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE telegram_users
			SET username = $1, first_name = $2, last_name = $3, photo_url = $4,
				is_premium = $5, language_code = $6, raw_data = $7, updated_at = CURRENT_TIMESTAMP
			WHERE telegram_id = $8
		`, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, tg.RawData, tg.TelegramID)
		if err != nil {
			return models.User{}, fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
		}
	}

	user, err := getUser(ctx, tx, userID)
	if err != nil {
		return models.User{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.User{}, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}

	return user, nil
}

// GetUser получает пользователя по ID
func (s *UserStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	return getUser(ctx, s.pool, id)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getUser(ctx context.Context, q rowQuerier, id int64) (models.User, error) {
	var user models.User
	var username, firstName, lastName, avatarURL pgtype.Text

	err := q.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, avatar_url
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &username, &firstName, &lastName, &avatarURL)
	if err != nil {
		return models.User{}, notFound(err, fmt.Sprintf("get user %d", id))
	}

	// Преобразуем nullable поля
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.AvatarURL = avatarURL.String

	return user, nil
}
