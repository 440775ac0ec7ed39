package websocket

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// TokenValidator извлекает пользователя из JWT
type TokenValidator interface {
	ExtractUserID(token string) (int64, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mini App открывается с домена Telegram
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler принимает соединения вида /ws?token=<jwt>
func Handler(manager *Manager, tokens TokenValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := tokens.ExtractUserID(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(userID, conn, manager)
		client.Greet(EventConnected)
		client.Start()
	}
}
