package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// FavoriteStore хранилище избранных книг
type FavoriteStore struct {
	pool *pgxpool.Pool
}

// NewFavoriteStore создает новый экземпляр FavoriteStore
func NewFavoriteStore(pool *pgxpool.Pool) *FavoriteStore {
	return &FavoriteStore{pool: pool}
}

// AddFavorite добавляет книгу в избранное. Возвращает false, если книга уже там.
func (s *FavoriteStore) AddFavorite(ctx context.Context, userID, bookID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO favorites (user_id, book_id) VALUES ($1, $2)
		ON CONFLICT (user_id, book_id) DO NOTHING
	`, userID, bookID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, fmt.Errorf("book %d: %w", bookID, apperr.ErrNotFound)
		}
		return false, fmt.Errorf("ошибка при добавлении в избранное: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveFavorite удаляет книгу из избранного
func (s *FavoriteStore) RemoveFavorite(ctx context.Context, userID, bookID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM favorites WHERE user_id = $1 AND book_id = $2`, userID, bookID)
	if err != nil {
		return fmt.Errorf("ошибка при удалении из избранного: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("favorite %d/%d: %w", userID, bookID, apperr.ErrNotFound)
	}
	return nil
}

// IsFavorite проверяет, добавлена ли книга в избранное
func (s *FavoriteStore) IsFavorite(ctx context.Context, userID, bookID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM favorites WHERE user_id = $1 AND book_id = $2)
	`, userID, bookID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка при проверке избранного: %w", err)
	}
	return exists, nil
}

// ListFavorites возвращает избранные книги, последние добавленные первыми
func (s *FavoriteStore) ListFavorites(ctx context.Context, userID int64) ([]models.Book, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.owner_id, b.title, b.author, b.course, b.isbn, b.condition, b.description,
			b.price, b.allow_swap, b.status, b.images, b.created_at, b.updated_at
		FROM favorites f
		JOIN books b ON b.id = f.book_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении избранного: %w", err)
	}
	return collectBooks(rows)
}
