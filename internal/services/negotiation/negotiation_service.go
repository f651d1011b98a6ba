package negotiation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/realtime"
	"github.com/rajivgeraev/barterkita-api/internal/services/chat"
	"github.com/rajivgeraev/barterkita-api/internal/services/listing"
	"github.com/rajivgeraev/barterkita-api/internal/store"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

// offersConcurrency ограничивает число параллельно собираемых предложений
const offersConcurrency = 8

// NegotiationService представляет сервис для работы с предложениями обмена
type NegotiationService struct {
	cfg        *config.Config
	store      store.Store
	events     realtime.Publisher
	chats      *chat.ChatService
	jwtService *utils.JWTService
	logger     logging.Logger
}

// NewNegotiationService создает новый экземпляр NegotiationService
func NewNegotiationService(cfg *config.Config, st store.Store, events realtime.Publisher, chats *chat.ChatService, jwtService *utils.JWTService, logger logging.Logger) *NegotiationService {
	return &NegotiationService{
		cfg:        cfg,
		store:      st,
		events:     events,
		chats:      chats,
		jwtService: jwtService,
		logger:     logger.With("service", "negotiation"),
	}
}

// Propose создает предложение обмена по объявлению, переводит объявление
// в in-progress и открывает чат с владельцем. Все три записи выполняются
// в одной транзакции. Повторное предложение того же пользователя возвращает
// уже существующее.
func (s *NegotiationService) Propose(ctx context.Context, listingID, proposerID uuid.UUID) (*models.Negotiation, error) {
	var (
		n              *models.Negotiation
		l              *models.Listing
		conv           *models.Conversation
		created        bool
		listingChanged bool
		convCreated    bool
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		l, err = tx.Listings().GetForUpdate(ctx, listingID)
		if err != nil {
			return apperr.FromStore(err, "Объявление не найдено")
		}
		if l.OwnerID == proposerID {
			return apperr.Validation("Нельзя предложить обмен по своему объявлению")
		}

		existing, err := tx.Negotiations().FindActiveByListing(ctx, listingID)
		switch {
		case err == nil && existing.ProposerID == proposerID:
			n = existing
		case err == nil:
			return apperr.Validation("По этому объявлению уже идет обмен")
		case errors.Is(err, store.ErrNotFound):
			n = &models.Negotiation{
				ListingID:      l.ID,
				ListingOwnerID: l.OwnerID,
				ProposerID:     proposerID,
				Status:         models.NegotiationStatusPending,
			}
			if err := tx.Negotiations().Create(ctx, n); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return apperr.Validation("По этому объявлению уже идет обмен")
				}
				return err
			}
			created = true
		default:
			return err
		}

		if listingChanged, err = listing.MarkInProgress(ctx, tx.Listings(), l); err != nil {
			return err
		}
		conv, convCreated, err = chat.Ensure(ctx, tx.Conversations(), l.OwnerID, proposerID, l.ID)
		return err
	})
	if err != nil {
		var ae *apperr.AppError
		if errors.As(err, &ae) && ae.Code != apperr.CodeInternal {
			return nil, err
		}
		s.logger.Error(ctx, "ошибка создания предложения", "listing_id", listingID, "proposer_id", proposerID, "error", err)
		return nil, apperr.Internal("Не удалось создать предложение, повторите попытку", err)
	}

	if created {
		s.logger.Info(ctx, "предложение создано", "negotiation_id", n.ID, "listing_id", l.ID, "proposer_id", proposerID)
		s.publish(realtime.EventNegotiationCreated, n)
	}
	if listingChanged {
		s.events.Publish(realtime.TopicListings, realtime.Event{
			Type: realtime.EventListingUpdated, ID: l.ID.String(), UserID: l.OwnerID.String(), Payload: l,
		})
	}
	if convCreated {
		s.chats.PublishConversation(realtime.EventConversationCreated, conv)
	}
	return n, nil
}

// Accept помечает предложение принятым. Принять может только владелец объявления.
func (s *NegotiationService) Accept(ctx context.Context, negotiationID, listingID, userID uuid.UUID) (*models.Negotiation, error) {
	n, err := s.store.Negotiations().Get(ctx, negotiationID)
	if err != nil {
		return nil, apperr.FromStore(err, "Предложение не найдено")
	}
	l, err := s.store.Listings().Get(ctx, listingID)
	if err != nil {
		return nil, apperr.FromStore(err, "Объявление не найдено")
	}
	if n.ListingID != l.ID {
		return nil, apperr.NotFound("Предложение не относится к этому объявлению")
	}
	if l.OwnerID != userID {
		return nil, apperr.Forbidden("Принять предложение может только владелец объявления")
	}
	if n.Status == models.NegotiationStatusAccepted {
		return n, nil
	}

	if err := s.store.Negotiations().SetStatus(ctx, n.ID, models.NegotiationStatusAccepted); err != nil {
		return nil, apperr.FromStore(err, "Предложение не найдено")
	}
	n.Status = models.NegotiationStatusAccepted

	s.logger.Info(ctx, "предложение принято", "negotiation_id", n.ID, "listing_id", l.ID)
	s.publish(realtime.EventNegotiationUpdated, n)
	return n, nil
}

// Get возвращает предложение по ID
func (s *NegotiationService) Get(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	n, err := s.store.Negotiations().Get(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "Предложение не найдено")
	}
	return n, nil
}

// IncomingOffers возвращает ожидающие предложения по объявлениям пользователя
func (s *NegotiationService) IncomingOffers(ctx context.Context, userID uuid.UUID) ([]models.OfferView, error) {
	ns, err := s.store.Negotiations().ListByOwner(ctx, userID, models.NegotiationStatusPending)
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}
	return s.views(ctx, ns, func(n models.Negotiation) uuid.UUID { return n.ProposerID })
}

// OffersTaken возвращает активные предложения, сделанные пользователем
func (s *NegotiationService) OffersTaken(ctx context.Context, userID uuid.UUID) ([]models.OfferView, error) {
	ns, err := s.store.Negotiations().ListByProposer(ctx, userID, models.ActiveNegotiationStatuses...)
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}
	return s.views(ctx, ns, func(n models.Negotiation) uuid.UUID { return n.ListingOwnerID })
}

// views собирает объявление, собеседника и чат для каждого предложения.
// Предложения по удаленным объявлениям пропускаются.
func (s *NegotiationService) views(ctx context.Context, ns []models.Negotiation, counterpartOf func(models.Negotiation) uuid.UUID) ([]models.OfferView, error) {
	slots := make([]*models.OfferView, len(ns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(offersConcurrency)
	for i, n := range ns {
		g.Go(func() error {
			l, err := s.store.Listings().Get(gctx, n.ListingID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return apperr.FromStore(err, "")
			}

			counterpartID := counterpartOf(n)
			counterpart := models.UserSummary{ID: counterpartID}
			u, err := s.store.Users().Get(gctx, counterpartID)
			switch {
			case err == nil:
				counterpart = u.Summary()
			case !errors.Is(err, store.ErrNotFound):
				return apperr.FromStore(err, "")
			}

			conv, err := s.chats.EnsureConversation(gctx, n.ListingOwnerID, n.ProposerID, n.ListingID)
			if apperr.Is(err, apperr.CodeNotFound) {
				// объявление удалено после чтения, обмен уже завершен
				return nil
			}
			if err != nil {
				return err
			}

			slots[i] = &models.OfferView{
				Negotiation:    n,
				Listing:        *l,
				Counterpart:    counterpart,
				ConversationID: conv.ID,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	views := make([]models.OfferView, 0, len(slots))
	for _, v := range slots {
		if v != nil {
			views = append(views, *v)
		}
	}
	return views, nil
}

func (s *NegotiationService) publish(t realtime.EventType, n *models.Negotiation) {
	ev := realtime.Event{Type: t, ID: n.ID.String(), Ref: n.ListingID.String(), Payload: n}
	s.events.Publish(realtime.TopicListings, ev)
	s.events.Publish(realtime.UserTopic(n.ListingOwnerID), ev)
	s.events.Publish(realtime.UserTopic(n.ProposerID), ev)
}
