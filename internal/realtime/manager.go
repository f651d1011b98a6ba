package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/barterkita-api/internal/logging"
)

// TokenValidator проверяет токен доступа
type TokenValidator interface {
	ExtractUserID(token string) (uuid.UUID, error)
}

// ConversationAuthorizer проверяет право пользователя читать чат
type ConversationAuthorizer interface {
	CanAccessConversation(ctx context.Context, conversationID string, userID uuid.UUID) (bool, error)
}

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	broker   *Broker
	tokens   TokenValidator
	authz    ConversationAuthorizer
	logger   logging.Logger
	upgrader websocket.Upgrader

	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[uuid.UUID]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewManager создает новый экземпляр Manager
func NewManager(broker *Broker, tokens TokenValidator, authz ConversationAuthorizer, logger logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		broker: broker,
		tokens: tokens,
		authz:  authz,
		logger: logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ServeHTTP проверяет токен и переводит соединение на WebSocket
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	userID, err := m.tokens.ExtractUserID(token)
	if err != nil {
		http.Error(w, "Недействительный или просроченный токен", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn(r.Context(), "не удалось открыть WebSocket", "error", err)
		return
	}

	NewClient(userID, conn, m).Start()
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

	m.logger.Debug(m.ctx, "клиент подключен", "client_id", client.ID, "user_id", client.UserID)
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
		if len(clients) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	m.userMutex.Unlock()

	m.logger.Debug(m.ctx, "клиент отключен", "client_id", clientID, "user_id", client.UserID)
}

// Online сообщает, есть ли у пользователя открытые соединения
func (m *Manager) Online(userID uuid.UUID) bool {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userClients[userID]) > 0
}

// authorize проверяет, может ли пользователь подписаться на топик
func (m *Manager) authorize(ctx context.Context, userID uuid.UUID, topic string) bool {
	if topic == TopicListings {
		return true
	}
	if owner, ok := ParseUserTopic(topic); ok {
		return owner == userID
	}
	if conversationID, ok := ParseConversationTopic(topic); ok {
		allowed, err := m.authz.CanAccessConversation(ctx, conversationID, userID)
		if err != nil {
			m.logger.Warn(ctx, "ошибка проверки доступа к чату", "conversation_id", conversationID, "error", err)
			return false
		}
		return allowed
	}
	return false
}

// Shutdown корректно завершает работу менеджера WebSocket
func (m *Manager) Shutdown() {
	m.cancel()

	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.RUnlock()

	for _, client := range clients {
		client.conn.Close()
	}
}
