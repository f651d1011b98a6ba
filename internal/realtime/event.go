package realtime

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип события
type EventType string

const (
	EventConnected EventType = "connected"
	EventError     EventType = "error"

	EventListingCreated EventType = "listing_created"
	EventListingUpdated EventType = "listing_updated"
	EventListingDeleted EventType = "listing_deleted"

	EventNegotiationCreated EventType = "negotiation_created"
	EventNegotiationUpdated EventType = "negotiation_updated"
	EventNegotiationDeleted EventType = "negotiation_deleted"

	EventConversationCreated EventType = "conversation_created"
	EventConversationUpdated EventType = "conversation_updated"
	EventConversationDeleted EventType = "conversation_deleted"

	EventNewMessage EventType = "new_message"
	EventTyping     EventType = "typing"

	EventTradeCompleted        EventType = "trade_completed"
	EventTradeResolutionFailed EventType = "trade_resolution_failed"
)

// Топики брокера
const (
	TopicListings      = "listings"
	TopicConversations = "conversations"

	conversationPrefix = "conversation:"
	userPrefix         = "user:"
)

// ConversationTopic топик событий одного чата
func ConversationTopic(conversationID string) string {
	return conversationPrefix + conversationID
}

// UserTopic личный топик пользователя
func UserTopic(userID uuid.UUID) string {
	return userPrefix + userID.String()
}

// ParseConversationTopic возвращает id чата, если топик относится к чату
func ParseConversationTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, conversationPrefix)
	return id, ok && id != ""
}

// ParseUserTopic возвращает id пользователя, если это личный топик
func ParseUserTopic(topic string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(topic, userPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

// Event представляет структуру события для брокера и WebSocket
type Event struct {
	Type      EventType `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	ID        string    `json:"id,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`

	// Origin экземпляр сервиса, породивший событие
	Origin string `json:"-"`
}
