package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationIDSeparator разделитель частей идентификатора чата
const ConversationIDSeparator = "_"

// ConversationID строит идентификатор чата: три id, отсортированные
// лексикографически и склеенные через "_". Порядок участников не важен.
func ConversationID(userA, userB, listingID uuid.UUID) string {
	parts := []string{userA.String(), userB.String(), listingID.String()}
	slices.Sort(parts)
	return strings.Join(parts, ConversationIDSeparator)
}

// SplitConversationID разбирает идентификатор чата на три uuid в отсортированном порядке
func SplitConversationID(id string) ([3]uuid.UUID, error) {
	var out [3]uuid.UUID
	parts := strings.Split(id, ConversationIDSeparator)
	if len(parts) != 3 {
		return out, fmt.Errorf("некорректный идентификатор чата: %q", id)
	}
	if !slices.IsSorted(parts) {
		return out, fmt.Errorf("части идентификатора чата не отсортированы: %q", id)
	}
	for i, p := range parts {
		u, err := uuid.Parse(p)
		if err != nil {
			return out, fmt.Errorf("некорректный идентификатор чата: %w", err)
		}
		if u.String() != p {
			return out, fmt.Errorf("идентификатор чата не в канонической форме: %q", id)
		}
		out[i] = u
	}
	return out, nil
}

// Conversation чат двух пользователей по одному объявлению
type Conversation struct {
	ID           string             `json:"id"`
	ListingID    uuid.UUID          `json:"listing_id"`
	Participants [2]uuid.UUID       `json:"participants"`
	Agreements   map[uuid.UUID]bool `json:"agreements"`
	CreatedAt    time.Time          `json:"created_at"`
}

// HasParticipant проверяет, участвует ли пользователь в чате
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Counterpart возвращает второго участника чата
func (c *Conversation) Counterpart(userID uuid.UUID) uuid.UUID {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// BothAgreed true, когда оба участника дали согласие
func (c *Conversation) BothAgreed() bool {
	return c.Agreements[c.Participants[0]] && c.Agreements[c.Participants[1]]
}

// AgreementResult результат фиксации согласия
type AgreementResult struct {
	AlreadyAgreed bool               `json:"already_agreed"`
	Agreements    map[uuid.UUID]bool `json:"agreements"`
}

// Message сообщение в чате. После создания не изменяется.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderDisplay  string    `json:"sender_display"`
	Text           string    `json:"text"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}

// Contact элемент списка чатов пользователя
type Contact struct {
	ConversationID string      `json:"conversation_id"`
	ListingID      uuid.UUID   `json:"listing_id"`
	ListingTitle   string      `json:"listing_title,omitempty"`
	Counterpart    UserSummary `json:"counterpart"`
	LastMessage    *Message    `json:"last_message,omitempty"`
	AgreedByMe     bool        `json:"agreed_by_me"`
	Online         bool        `json:"online"` // собеседник подключен по WebSocket
	CreatedAt      time.Time   `json:"created_at"`
}

// TradeState состояние обмена по чату
type TradeState string

const (
	TradeStateNegotiating TradeState = "negotiating"
	TradeStateBothAgreed  TradeState = "both_agreed"
	TradeStateResolved    TradeState = "resolved"
)

// Resolution результат проверки согласий и завершения обмена
type Resolution struct {
	ConversationID string     `json:"conversation_id"`
	State          TradeState `json:"state"`
	Completed      []string   `json:"completed_steps,omitempty"`
}
