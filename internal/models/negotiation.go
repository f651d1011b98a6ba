package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NegotiationStatus статус предложения обмена
type NegotiationStatus string

const (
	NegotiationStatusPending  NegotiationStatus = "pending"
	NegotiationStatusAccepted NegotiationStatus = "accepted"
)

// ActiveNegotiationStatuses статусы, которые считаются активными и удаляются каскадом
var ActiveNegotiationStatuses = []NegotiationStatus{NegotiationStatusPending, NegotiationStatusAccepted}

func (s NegotiationStatus) Valid() bool {
	switch s {
	case NegotiationStatusPending, NegotiationStatusAccepted:
		return true
	}
	return false
}

// ParseNegotiationStatus разбирает строковое значение статуса
func ParseNegotiationStatus(v string) (NegotiationStatus, error) {
	s := NegotiationStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("неизвестный статус предложения: %q", v)
	}
	return s, nil
}

// Negotiation предложение одного пользователя обменяться по чужому объявлению
type Negotiation struct {
	ID             uuid.UUID         `json:"id"`
	ListingID      uuid.UUID         `json:"listing_id"`
	ListingOwnerID uuid.UUID         `json:"listing_owner_id"`
	ProposerID     uuid.UUID         `json:"proposer_id"`
	Status         NegotiationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// OfferView предложение вместе с объявлением, собеседником и чатом
type OfferView struct {
	Negotiation    Negotiation `json:"negotiation"`
	Listing        Listing     `json:"listing"`
	Counterpart    UserSummary `json:"counterpart"`
	ConversationID string      `json:"conversation_id"`
}
