package chat

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperr"
	"github.com/rajivgeraev/bookswap-api/internal/db"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
)

const (
	defaultMessagesLimit = 50
	maxMessagesLimit     = 200
	maxMessageLength     = 4000
)

// Threads хранилище переписок
type Threads interface {
	EnsureThread(ctx context.Context, userA, userB, bookID int64) (models.Thread, error)
	GetThread(ctx context.Context, chatID string) (models.Thread, error)
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListThreads(ctx context.Context, userID int64) ([]models.Thread, error)
	ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID string, readerID int64) (int64, error)
}

// Users справочник пользователей для карточки собеседника
type Users interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// Pusher доставляет сообщение в открытые websocket-соединения
type Pusher interface {
	PushMessage(userID int64, msg models.Message)
}

// ChatService представляет сервис для работы с чатами
type ChatService struct {
	threads Threads
	users   Users
	pusher  Pusher
	now     func() time.Time
}

// NewChatService создает новый экземпляр ChatService
func NewChatService(threads Threads, users Users, pusher Pusher) *ChatService {
	return &ChatService{
		threads: threads,
		users:   users,
		pusher:  pusher,
		now:     time.Now,
	}
}

// GetChats возвращает список чатов пользователя
func (s *ChatService) GetChats(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	threads, err := s.threads.ListThreads(ctx, userID)
	if err != nil {
		log.Printf("Ошибка запроса чатов: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения чатов"})
	}

	// Получаем данные о собеседнике
	for i := range threads {
		peer, err := s.users.GetUser(ctx, threads[i].PeerOf(userID))
		if err != nil {
			log.Printf("Ошибка получения собеседника в чате %s: %v", threads[i].ChatID, err)
			continue
		}
		threads[i].Peer = &peer
	}

	return c.JSON(fiber.Map{
		"chats": threads,
		"count": len(threads),
	})
}

// CreateChat открывает переписку с владельцем книги
func (s *ChatService) CreateChat(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		ReceiverID int64 `json:"receiver_id"`
		BookID     int64 `json:"book_id"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.ReceiverID <= 0 || requestData.BookID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Необходимо указать получателя и книгу"})
	}
	if requestData.ReceiverID == userID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Нельзя создать чат с самим собой"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	thread, err := s.threads.EnsureThread(ctx, userID, requestData.ReceiverID, requestData.BookID)
	if err != nil {
		log.Printf("Ошибка создания чата: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка создания чата"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"chat": thread})
}

// GetChatMessages возвращает сообщения конкретного чата
func (s *ChatService) GetChatMessages(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	chatID := c.Params("chatId")

	ctx, cancel := db.GetContext()
	defer cancel()

	if _, err := s.participantThread(ctx, chatID, userID); err != nil {
		return apperr.Respond(c, err)
	}

	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultMessagesLimit)))
	if limit <= 0 || limit > maxMessagesLimit {
		limit = defaultMessagesLimit
	}

	// Пагинация по времени создания
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат параметра before"})
		}
		before = parsed
	}

	messages, err := s.threads.ListMessages(ctx, chatID, before, limit)
	if err != nil {
		log.Printf("Ошибка запроса сообщений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка получения сообщений"})
	}

	// Отмечаем сообщения как прочитанные
	if _, err := s.threads.MarkRead(ctx, chatID, userID); err != nil {
		log.Printf("Ошибка обновления статуса прочтения: %v", err)
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"has_more": len(messages) == limit,
	})
}

// SendMessage отправляет новое сообщение
func (s *ChatService) SendMessage(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	chatID := c.Params("chatId")

	var requestData struct {
		Text string `json:"text"`
	}

	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	text := strings.TrimSpace(requestData.Text)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Текст сообщения не может быть пустым"})
	}
	if len([]rune(text)) > maxMessageLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Сообщение слишком длинное"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	thread, err := s.participantThread(ctx, chatID, userID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	msg, err := s.threads.AppendMessage(ctx, models.Message{
		ID:          uuid.New(),
		ChatID:      thread.ChatID,
		SenderID:    userID,
		ReceiverID:  thread.PeerOf(userID),
		Text:        text,
		MessageType: models.MessageText,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		if apperr.Kind(err) != nil {
			return apperr.Respond(c, err)
		}
		log.Printf("Ошибка сохранения сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка отправки сообщения"})
	}

	if s.pusher != nil {
		s.pusher.PushMessage(msg.ReceiverID, msg)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

// participantThread возвращает переписку, если пользователь в ней участвует
func (s *ChatService) participantThread(ctx context.Context, chatID string, userID int64) (models.Thread, error) {
	if userID == 0 {
		return models.Thread{}, apperr.ErrUnauthorized
	}

	thread, err := s.threads.GetThread(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Thread{}, apperr.Wrap(apperr.ErrNotFound, "Чат не найден")
		}
		return models.Thread{}, err
	}

	if !thread.HasParticipant(userID) {
		return models.Thread{}, apperr.Wrap(apperr.ErrForbidden, "У вас нет доступа к этому чату")
	}

	return thread, nil
}
