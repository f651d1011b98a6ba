package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListingStatus статус объявления. Допустим только переход new -> in-progress.
type ListingStatus string

const (
	ListingStatusNew        ListingStatus = "new"
	ListingStatusInProgress ListingStatus = "in-progress"
)

// Valid проверяет, что статус входит в допустимый набор
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusNew, ListingStatusInProgress:
		return true
	}
	return false
}

// CanTransitionTo сообщает, разрешен ли переход в статус next.
// Повторная установка того же статуса считается допустимой.
func (s ListingStatus) CanTransitionTo(next ListingStatus) bool {
	if s == next {
		return s.Valid()
	}
	return s == ListingStatusNew && next == ListingStatusInProgress
}

// ParseListingStatus разбирает строковое значение статуса
func ParseListingStatus(v string) (ListingStatus, error) {
	s := ListingStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("неизвестный статус объявления: %q", v)
	}
	return s, nil
}

// Listing представляет бартерное объявление
type Listing struct {
	ID           uuid.UUID     `json:"id"`
	OwnerID      uuid.UUID     `json:"owner_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	SkillNeeded  string        `json:"skill_needed"`
	SkillOffered string        `json:"skill_offered"`
	Location     string        `json:"location"`
	Image        string        `json:"image,omitempty"` // data URI
	Status       ListingStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	// Дополнительные поля для API
	Owner *UserSummary `json:"owner,omitempty"`
}

// ListingInput поля объявления, которые задает владелец
type ListingInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	SkillNeeded  string `json:"skill_needed"`
	SkillOffered string `json:"skill_offered"`
	Location     string `json:"location"`
	Image        string `json:"image,omitempty"`
}

// ListingsResponse ответ API со списком объявлений
type ListingsResponse struct {
	Listings []Listing `json:"listings"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}
