package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/rajivgeraev/bookswap-api/internal/models"
)

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[int64]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	now          func() time.Time
}

// EventType определяет тип события WebSocket
type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventSwapUpdated EventType = "swap_updated"
	EventConnected   EventType = "connected"
	EventTyping      EventType = "typing"
	EventStopTyping  EventType = "stop_typing"
)

// Event представляет структуру сообщения для WebSocket
type Event struct {
	Type      EventType           `json:"type"`
	ChatID    string              `json:"chat_id,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	UserID    int64               `json:"user_id,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   jsoniter.RawMessage `json:"payload,omitempty"`
}

// NewManager создает новый экземпляр Manager
func NewManager() *Manager {
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[int64]map[uuid.UUID]bool),
		now:         time.Now,
	}
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	// Связываем клиент с пользователем
	m.userMutex.Lock()
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.userMutex.Unlock()

	log.Printf("WebSocket client %s connected for user %d", client.ID, client.UserID)
}

// RemoveClient удаляет клиента
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.clientsMutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.clientsMutex.Unlock()

	if !exists {
		return
	}

	m.userMutex.Lock()
	if clients, ok := m.userClients[client.UserID]; ok {
		delete(clients, clientID)
		// Последнее соединение пользователя
		if len(clients) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	m.userMutex.Unlock()

	log.Printf("WebSocket client %s disconnected for user %d", clientID, client.UserID)
}

// Online сообщает, есть ли у пользователя открытые соединения
func (m *Manager) Online(userID int64) bool {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userClients[userID]) > 0
}

// SendToUser отправляет событие всем соединениям пользователя
func (m *Manager) SendToUser(userID int64, event Event) {
	if userID == 0 {
		return
	}

	m.userMutex.RLock()
	clientIDs := make([]uuid.UUID, 0, len(m.userClients[userID]))
	for clientID := range m.userClients[userID] {
		clientIDs = append(clientIDs, clientID)
	}
	m.userMutex.RUnlock()

	if len(clientIDs) == 0 {
		// Пользователь не онлайн, сообщение уже сохранено в БД
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}

	eventJSON, err := jsoniter.ConfigFastest.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	for _, clientID := range clientIDs {
		m.clientsMutex.RLock()
		client, exists := m.clients[clientID]
		m.clientsMutex.RUnlock()

		if !exists {
			continue
		}

		select {
		case client.send <- eventJSON:
		default:
			// Клиент не успевает читать, закрываем соединение
			log.Printf("Send channel full for client %s, closing connection", client.ID)
			client.conn.Close()
			m.RemoveClient(client.ID)
		}
	}
}

// PushMessage доставляет сохраненное сообщение получателю. Системные
// сообщения об обмене дополнительно порождают swap_updated.
func (m *Manager) PushMessage(userID int64, msg models.Message) {
	payload, err := jsoniter.ConfigFastest.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling message %s: %v", msg.ID, err)
		return
	}

	m.SendToUser(userID, Event{
		Type:      EventNewMessage,
		ChatID:    msg.ChatID,
		MessageID: msg.ID.String(),
		UserID:    msg.SenderID,
		Payload:   payload,
	})

	if msg.SwapOfferID == nil {
		return
	}

	update, err := jsoniter.ConfigFastest.Marshal(map[string]any{
		"offer_id":     *msg.SwapOfferID,
		"message_type": msg.MessageType,
	})
	if err != nil {
		log.Printf("Error marshaling swap update: %v", err)
		return
	}

	m.SendToUser(userID, Event{
		Type:    EventSwapUpdated,
		ChatID:  msg.ChatID,
		UserID:  msg.SenderID,
		Payload: update,
	})
}

// Shutdown закрывает все соединения
func (m *Manager) Shutdown() {
	m.clientsMutex.Lock()
	for _, client := range m.clients {
		client.conn.Close()
	}
	m.clients = make(map[uuid.UUID]*Client)
	m.clientsMutex.Unlock()

	m.userMutex.Lock()
	m.userClients = make(map[int64]map[uuid.UUID]bool)
	m.userMutex.Unlock()
}
