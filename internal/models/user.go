package models

import (
	"time"

	"github.com/google/uuid"
)

// User профиль пользователя
type User struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"display_name"` // название учреждения или имя
	Skill        string    `json:"skill,omitempty"`
	Address      string    `json:"address,omitempty"`
	Email        string    `json:"email,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	TelegramID   *int64    `json:"telegram_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary минимальная информация о пользователе для API
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, DisplayName: u.DisplayName, Avatar: u.Avatar}
}

// UserSummary представляет минимальную информацию о пользователе для API
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
}

// ProfileInput изменяемые поля профиля
type ProfileInput struct {
	DisplayName string `json:"display_name"`
	Skill       string `json:"skill"`
	Address     string `json:"address"`
	Avatar      string `json:"avatar,omitempty"`
}

// CompletedTrade запись о завершенном обмене
type CompletedTrade struct {
	ID             uuid.UUID `json:"id"`
	ListingID      uuid.UUID `json:"listing_id"`
	ListingTitle   string    `json:"listing_title"`
	OwnerID        uuid.UUID `json:"owner_id"`
	ProposerID     uuid.UUID `json:"proposer_id"`
	ConversationID string    `json:"conversation_id"`
	CompletedAt    time.Time `json:"completed_at"`
}
