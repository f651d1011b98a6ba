// Package agreement завершает обмен, когда оба участника чата дали согласие:
// архивирует сделку и удаляет предложения, объявление и чат.
package agreement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/realtime"
	"github.com/rajivgeraev/barterkita-api/internal/store"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

// Шаги завершения обмена
const (
	StepArchiveTrade       = "archive_trade"
	StepDeleteNegotiations = "delete_negotiations"
	StepDeleteListing      = "delete_listing"
	StepDeleteConversation = "delete_conversation"
)

// ErrConversationKept чат оставлен для повторного запуска, так как предыдущие шаги не выполнены
var ErrConversationKept = errors.New("чат сохранен до успешного удаления объявления и предложений")

// TradePayload данные события trade_completed и trade_resolution_failed
type TradePayload struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      uuid.UUID `json:"listing_id"`
	ListingTitle   string    `json:"listing_title,omitempty"`
	FailedSteps    []string  `json:"failed_steps,omitempty"`
}

// Resolver следит за согласиями в чатах и завершает обмен
type Resolver struct {
	cfg        *config.Config
	store      store.Store
	events     realtime.Publisher
	jwtService *utils.JWTService
	logger     logging.Logger

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewResolver создает новый экземпляр Resolver
func NewResolver(cfg *config.Config, st store.Store, events realtime.Publisher, jwtService *utils.JWTService, logger logging.Logger) *Resolver {
	return &Resolver{
		cfg:        cfg,
		store:      st,
		events:     events,
		jwtService: jwtService,
		logger:     logger.With("service", "agreement"),
	}
}

// Start подписывает резолвер на изменения чатов, включая пришедшие через NOTIFY
func (r *Resolver) Start(broker *realtime.Broker) realtime.Disposer {
	return broker.Subscribe(realtime.TopicConversations, r.handleEvent)
}

// Wait дожидается завершения запущенных по событиям проверок
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) handleEvent(e realtime.Event) {
	if e.Type == realtime.EventConversationDeleted {
		return
	}
	conversationID := e.Ref
	if conversationID == "" {
		conversationID = e.ID
	}
	if conversationID == "" {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
		defer cancel()
		if _, err := r.Resolve(ctx, conversationID); err != nil {
			r.logger.Warn(ctx, "завершение обмена по событию не удалось", "conversation_id", conversationID, "error", err)
		}
	}()
}

// Resolve перечитывает чат и, если согласны оба участника, выполняет каскад.
// Отсутствующий чат означает, что обмен уже завершен. Параллельные вызовы
// для одного чата объединяются.
func (r *Resolver) Resolve(ctx context.Context, conversationID string) (*models.Resolution, error) {
	// каскад не прерывается при отмене запроса, который его запустил
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout())
	defer cancel()

	v, err, _ := r.group.Do(conversationID, func() (any, error) {
		return r.resolve(ctx, conversationID)
	})
	res, _ := v.(*models.Resolution)
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, conversationID string) (*models.Resolution, error) {
	conv, err := r.store.Conversations().Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Resolution{ConversationID: conversationID, State: models.TradeStateResolved}, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "Чат не найден")
	}
	if !conv.BothAgreed() {
		return &models.Resolution{ConversationID: conversationID, State: models.TradeStateNegotiating}, nil
	}

	r.logger.Info(ctx, "оба участника согласны, завершаем обмен",
		"conversation_id", conv.ID, "listing_id", conv.ListingID)

	listing, err := r.store.Listings().Get(ctx, conv.ListingID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn(ctx, "не удалось прочитать объявление", "listing_id", conv.ListingID, "error", err)
	}

	cascade := &apperr.PartialCascadeError{}
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			r.logger.Error(ctx, "шаг завершения обмена не выполнен", "conversation_id", conv.ID, "step", name, "error", err)
			cascade.Failed = append(cascade.Failed, apperr.StepError{Step: name, Err: err})
			return
		}
		cascade.Completed = append(cascade.Completed, name)
	}

	// архив не блокирует каскад
	if err := r.archive(ctx, conv, listing); err != nil {
		r.logger.Warn(ctx, "не удалось записать обмен в историю", "conversation_id", conv.ID, "error", err)
	} else {
		cascade.Completed = append(cascade.Completed, StepArchiveTrade)
	}

	step(StepDeleteNegotiations, func() error {
		_, err := r.store.Negotiations().DeleteByListing(ctx, conv.ListingID, models.ActiveNegotiationStatuses...)
		return err
	})
	step(StepDeleteListing, func() error {
		return r.store.Listings().Delete(ctx, conv.ListingID)
	})
	// чат удаляется последним и только после остальных шагов: пока он есть,
	// повторный запуск доводит каскад до конца
	if len(cascade.Failed) > 0 {
		cascade.Failed = append(cascade.Failed, apperr.StepError{Step: StepDeleteConversation, Err: ErrConversationKept})
	} else {
		step(StepDeleteConversation, func() error {
			return r.store.Conversations().Delete(ctx, conv.ID)
		})
	}

	payload := TradePayload{ConversationID: conv.ID, ListingID: conv.ListingID}
	if listing != nil {
		payload.ListingTitle = listing.Title
	}

	if len(cascade.Failed) > 0 {
		payload.FailedSteps = cascade.FailedSteps()
		r.notify(conv, realtime.EventTradeResolutionFailed, payload)
		return &models.Resolution{
			ConversationID: conv.ID,
			State:          models.TradeStateBothAgreed,
			Completed:      cascade.Completed,
		}, cascade
	}

	r.events.Publish(realtime.TopicListings, realtime.Event{Type: realtime.EventListingDeleted, ID: conv.ListingID.String()})
	deleted := realtime.Event{Type: realtime.EventConversationDeleted, ID: conv.ID, Ref: conv.ID}
	r.events.Publish(realtime.ConversationTopic(conv.ID), deleted)
	r.events.Publish(realtime.TopicConversations, deleted)
	r.notify(conv, realtime.EventTradeCompleted, payload)

	r.logger.Info(ctx, "обмен завершен", "conversation_id", conv.ID, "listing_id", conv.ListingID)
	return &models.Resolution{
		ConversationID: conv.ID,
		State:          models.TradeStateResolved,
		Completed:      cascade.Completed,
	}, nil
}

// archive записывает обмен в историю. Владельца берет из объявления,
// а если оно уже удалено, из активного предложения.
func (r *Resolver) archive(ctx context.Context, conv *models.Conversation, listing *models.Listing) error {
	trade := &models.CompletedTrade{ListingID: conv.ListingID, ConversationID: conv.ID}
	switch {
	case listing != nil:
		trade.ListingTitle = listing.Title
		trade.OwnerID = listing.OwnerID
	default:
		n, err := r.store.Negotiations().FindActiveByListing(ctx, conv.ListingID)
		if err != nil {
			return err
		}
		trade.OwnerID = n.ListingOwnerID
	}
	if !conv.HasParticipant(trade.OwnerID) {
		return errors.New("владелец объявления не участвует в чате")
	}
	trade.ProposerID = conv.Counterpart(trade.OwnerID)
	return r.store.Trades().Archive(ctx, trade)
}

func (r *Resolver) notify(conv *models.Conversation, t realtime.EventType, payload TradePayload) {
	for _, userID := range conv.Participants {
		r.events.Publish(realtime.UserTopic(userID), realtime.Event{
			Type:    t,
			ID:      conv.ListingID.String(),
			Ref:     conv.ID,
			UserID:  userID.String(),
			Payload: payload,
		})
	}
}

// TradeHistory возвращает завершенные обмены пользователя
func (r *Resolver) TradeHistory(ctx context.Context, userID uuid.UUID) ([]models.CompletedTrade, error) {
	trades, err := r.store.Trades().ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}
	return trades, nil
}

func (r *Resolver) timeout() time.Duration {
	if r.cfg.RequestTimeout > 0 {
		return r.cfg.RequestTimeout
	}
	return 5 * time.Second
}
