package websocket

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/rajivgeraev/bookswap-api/internal/services/swap"
)

const (
	// Максимальное время ожидания для pong от клиента
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения клиенту с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	writeWait = 10 * time.Second

	// Максимальный размер сообщения от клиента
	maxMessageSize = 64 * 1024

	// Размер буфера для отправляемых сообщений
	writeBufferSize = 256
)

// Client представляет собой отдельное WebSocket соединение
type Client struct {
	ID        uuid.UUID
	UserID    int64
	conn      *websocket.Conn
	send      chan []byte // Буферизованный канал исходящих сообщений
	manager   *Manager
	closeChan chan struct{}
}

// NewClient создает новый экземпляр Client
func NewClient(userID int64, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:        uuid.New(),
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, writeBufferSize),
		manager:   manager,
		closeChan: make(chan struct{}),
	}
}

// Greet ставит в очередь служебное событие только для этого соединения
func (c *Client) Greet(eventType EventType) {
	data, err := jsoniter.ConfigFastest.Marshal(Event{
		Type:      eventType,
		UserID:    c.UserID,
		Timestamp: c.manager.now(),
	})
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	select {
	case c.send <- data:
	default:
	}
}

// Start регистрирует клиента и запускает горутины чтения и записи
func (c *Client) Start() {
	c.manager.AddClient(c)

	go c.readPump()
	go c.writePump()
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer func() {
		c.manager.RemoveClient(c.ID)
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Unexpected close error: %v", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing message: %v", err)
				return
			}
		case <-ticker.C:
			// ping для поддержания соединения
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// handleIncomingMessage пересылает индикатор набора текста собеседнику
func (c *Client) handleIncomingMessage(message []byte) {
	var event Event
	if err := jsoniter.ConfigFastest.Unmarshal(message, &event); err != nil {
		log.Printf("Error unmarshaling event: %v", err)
		return
	}

	switch event.Type {
	case EventTyping, EventStopTyping:
		low, high, _, err := swap.ParseChatID(event.ChatID)
		if err != nil {
			log.Printf("Client %s sent malformed chat id %q", c.ID, event.ChatID)
			return
		}

		var peer int64
		switch c.UserID {
		case low:
			peer = high
		case high:
			peer = low
		default:
			// отправитель не участник переписки
			log.Printf("User %d is not a participant of chat %s", c.UserID, event.ChatID)
			return
		}

		c.manager.SendToUser(peer, Event{
			Type:   event.Type,
			ChatID: event.ChatID,
			UserID: c.UserID,
		})
	default:
		log.Printf("Unhandled event type: %s", event.Type)
	}
}
