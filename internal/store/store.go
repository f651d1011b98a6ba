// Package store описывает хранилище объявлений, предложений, чатов,
// сообщений, пользователей и архива обменов. Реализации: postgres и memory.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/models"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("not found")
	// ErrConflict нарушено ограничение уникальности
	ErrConflict = errors.New("conflict")
)

// Store набор репозиториев над одним соединением или транзакцией
type Store interface {
	Listings() ListingRepository
	Negotiations() NegotiationRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
	Users() UserRepository
	Trades() TradeRepository

	// WithinTx выполняет fn в транзакции. При ошибке изменения откатываются.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

type ListingRepository interface {
	// Create сохраняет объявление, заполняя ID и временные метки
	Create(ctx context.Context, l *models.Listing) error
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	// GetForUpdate читает объявление с блокировкой строки до конца транзакции
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	// List возвращает объявления, новые первыми
	List(ctx context.Context, limit, offset int) ([]models.Listing, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Listing, error)
	// Update сохраняет редактируемые поля, статус не меняется
	Update(ctx context.Context, l *models.Listing) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.ListingStatus) error
	// Delete удаляет объявление. Отсутствие записи не ошибка.
	Delete(ctx context.Context, id uuid.UUID) error
}

type NegotiationRepository interface {
	// Create возвращает ErrConflict, если по объявлению уже есть активное предложение
	Create(ctx context.Context, n *models.Negotiation) error
	Get(ctx context.Context, id uuid.UUID) (*models.Negotiation, error)
	FindActiveByListing(ctx context.Context, listingID uuid.UUID) (*models.Negotiation, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, statuses ...models.NegotiationStatus) ([]models.Negotiation, error)
	ListByProposer(ctx context.Context, proposerID uuid.UUID, statuses ...models.NegotiationStatus) ([]models.Negotiation, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.NegotiationStatus) error
	// DeleteByListing удаляет предложения объявления с указанными статусами
	DeleteByListing(ctx context.Context, listingID uuid.UUID, statuses ...models.NegotiationStatus) (int64, error)
}

type ConversationRepository interface {
	// Ensure создает чат, если его нет. created=false, если чат уже существовал.
	// Новый чат для отсутствующего объявления не создается, возвращается ErrNotFound.
	Ensure(ctx context.Context, c *models.Conversation) (created bool, err error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// RecordAgreement атомарно выставляет agreements[userID]=true и
	// возвращает карту после записи и признак того, что согласие уже было.
	RecordAgreement(ctx context.Context, id string, userID uuid.UUID) (map[uuid.UUID]bool, bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Conversation, error)
	// Delete удаляет чат вместе с сообщениями. Отсутствие записи не ошибка.
	Delete(ctx context.Context, id string) error
}

type MessageRepository interface {
	// Append добавляет сообщение, сервер назначает ID, Seq и CreatedAt
	Append(ctx context.Context, m *models.Message) error
	// List возвращает сообщения по возрастанию (created_at, seq)
	List(ctx context.Context, conversationID string) ([]models.Message, error)
	Last(ctx context.Context, conversationID string) (*models.Message, error)
}

type UserRepository interface {
	// Create возвращает ErrConflict при повторе email или telegram id
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	UpdateProfile(ctx context.Context, u *models.User) error
}

type TradeRepository interface {
	// Archive сохраняет запись о завершенном обмене, повтор по тому же чату игнорируется
	Archive(ctx context.Context, t *models.CompletedTrade) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.CompletedTrade, error)
}
