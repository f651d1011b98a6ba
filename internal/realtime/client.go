package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
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

// Типы кадров от клиента
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameTyping      = "typing"
)

// Подтверждения подписки
const (
	EventSubscribed   EventType = "subscribed"
	EventUnsubscribed EventType = "unsubscribed"
)

// clientFrame входящее сообщение от клиента
type clientFrame struct {
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Client представляет собой отдельное WebSocket соединение
type Client struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	conn    *websocket.Conn
	send    chan []byte // Буферизованный канал исходящих сообщений
	manager *Manager

	subsMu    sync.Mutex
	subs      map[string]Disposer
	closeOnce sync.Once
	closeChan chan struct{}
}

// NewClient создает новый экземпляр Client
func NewClient(userID uuid.UUID, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:        uuid.New(),
		UserID:    userID,
		conn:      conn,
		send:      make(chan []byte, writeBufferSize),
		manager:   manager,
		subs:      make(map[string]Disposer),
		closeChan: make(chan struct{}),
	}
}

// Start регистрирует клиента, подписывает на личный топик и запускает горутины чтения и записи
func (c *Client) Start() {
	c.manager.AddClient(c)
	c.subscribe(UserTopic(c.UserID))
	c.deliver(Event{Type: EventConnected, UserID: c.UserID.String(), Timestamp: time.Now()})

	go c.readPump()
	go c.writePump()
}

// close освобождает все подписки ровно один раз
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.subsMu.Lock()
		for topic, dispose := range c.subs {
			dispose()
			delete(c.subs, topic)
		}
		c.subsMu.Unlock()

		c.manager.RemoveClient(c.ID)
		c.conn.Close()
		close(c.closeChan)
	})
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer c.close()

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
				c.manager.logger.Warn(c.manager.ctx, "неожиданное закрытие соединения", "client_id", c.ID, "error", err)
			}
			return
		}

		c.handleIncomingMessage(message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			// Отправляем ping для поддержания соединения
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// deliver ставит событие в очередь отправки. Медленный клиент отключается.
func (c *Client) deliver(event Event) {
	// собственные события набора текста не возвращаем отправителю
	if event.Type == EventTyping && event.UserID == c.UserID.String() {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.manager.logger.Error(c.manager.ctx, "ошибка сериализации события", "error", err)
		return
	}

	select {
	case c.send <- payload:
	case <-c.closeChan:
	default:
		c.manager.logger.Warn(c.manager.ctx, "очередь клиента переполнена, закрываем соединение", "client_id", c.ID)
		c.conn.Close()
	}
}

func (c *Client) subscribe(topic string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	select {
	case <-c.closeChan:
		return
	default:
	}
	if _, ok := c.subs[topic]; ok {
		return
	}
	c.subs[topic] = c.manager.broker.Subscribe(topic, c.deliver)
}

func (c *Client) unsubscribe(topic string) {
	c.subsMu.Lock()
	dispose, ok := c.subs[topic]
	delete(c.subs, topic)
	c.subsMu.Unlock()

	if ok {
		dispose()
	}
}

// handleIncomingMessage обрабатывает входящие сообщения от клиента
func (c *Client) handleIncomingMessage(message []byte) {
	var frame clientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.deliver(Event{Type: EventError, Payload: "Некорректное сообщение", Timestamp: time.Now()})
		return
	}

	ctx, cancel := context.WithTimeout(c.manager.ctx, 5*time.Second)
	defer cancel()

	switch frame.Type {
	case frameSubscribe:
		if !c.manager.authorize(ctx, c.UserID, frame.Topic) {
			c.deliver(Event{Type: EventError, Topic: frame.Topic, Payload: "Нет доступа к топику", Timestamp: time.Now()})
			return
		}
		c.subscribe(frame.Topic)
		c.deliver(Event{Type: EventSubscribed, Topic: frame.Topic, Timestamp: time.Now()})
	case frameUnsubscribe:
		c.unsubscribe(frame.Topic)
		c.deliver(Event{Type: EventUnsubscribed, Topic: frame.Topic, Timestamp: time.Now()})
	case frameTyping:
		topic := ConversationTopic(frame.ConversationID)
		if frame.ConversationID == "" || !c.manager.authorize(ctx, c.UserID, topic) {
			c.deliver(Event{Type: EventError, Topic: topic, Payload: "Нет доступа к чату", Timestamp: time.Now()})
			return
		}
		c.manager.broker.Publish(topic, Event{
			Type:   EventTyping,
			Ref:    frame.ConversationID,
			UserID: c.UserID.String(),
		})
	default:
		c.deliver(Event{Type: EventError, Payload: "Неизвестный тип сообщения", Timestamp: time.Now()})
	}
}
