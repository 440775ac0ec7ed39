package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const bookColumns = `id, owner_id, title, author, course, isbn, condition, description,
	price, allow_swap, status, images, created_at, updated_at`

// BookStore хранилище учебников
type BookStore struct {
	pool *pgxpool.Pool
}

// NewBookStore создает новый экземпляр BookStore
func NewBookStore(pool *pgxpool.Pool) *BookStore {
	return &BookStore{pool: pool}
}

// CreateBook сохраняет новую книгу в статусе available
func (s *BookStore) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	if book.Images == nil {
		book.Images = []models.BookImage{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO books (owner_id, title, author, course, isbn, condition, description, price, allow_swap, status, images)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'available', $10)
		RETURNING `+bookColumns,
		book.OwnerID, book.Title, book.Author, book.Course, book.ISBN, book.Condition,
		book.Description, book.Price, book.AllowSwap, book.Images)

	created, err := scanBook(row)
	if err != nil {
		return models.Book{}, fmt.Errorf("ошибка при создании книги: %w", err)
	}
	return created, nil
}

// FindBook получает книгу по ID
func (s *BookStore) FindBook(ctx context.Context, id int64) (models.Book, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)

	book, err := scanBook(row)
	if err != nil {
		return models.Book{}, notFound(err, fmt.Sprintf("find book %d", id))
	}
	return book, nil
}

// SetBookStatus меняет статус книги
func (s *BookStore) SetBookStatus(ctx context.Context, id int64, status models.BookStatus) error {
	if !status.Valid() {
		return apperr.Wrap(apperr.ErrInvalidRequest, "Неверный статус книги: %q", status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE books SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении статуса книги %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set book %d status: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListBooksByOwner возвращает книги пользователя, новые первыми
func (s *BookStore) ListBooksByOwner(ctx context.Context, ownerID int64) ([]models.Book, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookColumns+` FROM books WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении книг пользователя: %w", err)
	}
	return collectBooks(rows)
}

// ListAvailableBooks возвращает доступные книги постранично
func (s *BookStore) ListAvailableBooks(ctx context.Context, limit, offset int) ([]models.Book, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookColumns+` FROM books
		WHERE status = 'available'
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении книг: %w", err)
	}
	return collectBooks(rows)
}

// FindBooks получает книги по списку ID
func (s *BookStore) FindBooks(ctx context.Context, ids []int64) ([]models.Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении книг: %w", err)
	}
	return collectBooks(rows)
}

func collectBooks(rows pgx.Rows) ([]models.Book, error) {
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при сканировании книги: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при обработке строк: %w", err)
	}
	return books, nil
}

func scanBook(row pgx.Row) (models.Book, error) {
	var book models.Book
	err := row.Scan(
		&book.ID, &book.OwnerID, &book.Title, &book.Author, &book.Course, &book.ISBN,
		&book.Condition, &book.Description, &book.Price, &book.AllowSwap, &book.Status,
		&book.Images, &book.CreatedAt, &book.UpdatedAt,
	)
	return book, err
}
