package listing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/realtime"
	"github.com/rajivgeraev/barterkita-api/internal/store"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

// Шаги каскадного удаления объявления
const (
	StepDeleteListing       = "delete_listing"
	StepDeleteNegotiations  = "delete_negotiations"
	StepDeleteConversations = "delete_conversations"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListingService представляет сервис для работы с объявлениями
type ListingService struct {
	cfg        *config.Config
	store      store.Store
	events     realtime.Publisher
	jwtService *utils.JWTService
	logger     logging.Logger
}

// NewListingService создает новый экземпляр ListingService
func NewListingService(cfg *config.Config, st store.Store, events realtime.Publisher, jwtService *utils.JWTService, logger logging.Logger) *ListingService {
	return &ListingService{
		cfg:        cfg,
		store:      st,
		events:     events,
		jwtService: jwtService,
		logger:     logger.With("service", "listing"),
	}
}

// Create создает объявление со статусом new. При ошибке проверки ничего не сохраняется.
func (s *ListingService) Create(ctx context.Context, ownerID uuid.UUID, in models.ListingInput) (*models.Listing, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}
	if err := ValidateImage(in.Image, s.cfg.ImageMaxBytes); err != nil {
		return nil, err
	}

	l := &models.Listing{
		OwnerID:      ownerID,
		Title:        in.Title,
		Description:  in.Description,
		SkillNeeded:  in.SkillNeeded,
		SkillOffered: in.SkillOffered,
		Location:     in.Location,
		Image:        in.Image,
		Status:       models.ListingStatusNew,
	}
	if err := s.store.Listings().Create(ctx, l); err != nil {
		s.logger.Error(ctx, "ошибка создания объявления", "owner_id", ownerID, "error", err)
		return nil, apperr.FromStore(err, "Пользователь не найден")
	}

	s.logger.Info(ctx, "объявление создано", "listing_id", l.ID, "owner_id", ownerID)
	s.publish(realtime.EventListingCreated, l)
	return l, nil
}

// Get возвращает объявление вместе с краткой информацией о владельце
func (s *ListingService) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "Объявление не найдено")
	}
	s.attachOwners(ctx, []*models.Listing{l})
	return l, nil
}

// ListMarketplace возвращает объявления всех пользователей, новые первыми
func (s *ListingService) ListMarketplace(ctx context.Context, limit, offset int) (*models.ListingsResponse, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset = max(offset, 0)

	listings, err := s.store.Listings().List(ctx, limit, offset)
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}
	s.attachOwners(ctx, pointers(listings))

	return &models.ListingsResponse{Listings: listings, Limit: limit, Offset: offset}, nil
}

// ListByOwner возвращает объявления пользователя
func (s *ListingService) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Listing, error) {
	listings, err := s.store.Listings().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}
	return listings, nil
}

// Update меняет поля объявления. Статус не редактируется.
func (s *ListingService) Update(ctx context.Context, id, requesterID uuid.UUID, in models.ListingInput) (*models.Listing, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}
	if err := ValidateImage(in.Image, s.cfg.ImageMaxBytes); err != nil {
		return nil, err
	}

	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "Объявление не найдено")
	}
	if l.OwnerID != requesterID {
		return nil, apperr.Forbidden("Вы не можете изменить чужое объявление")
	}

	l.Title = in.Title
	l.Description = in.Description
	l.SkillNeeded = in.SkillNeeded
	l.SkillOffered = in.SkillOffered
	l.Location = in.Location
	l.Image = in.Image
	if err := s.store.Listings().Update(ctx, l); err != nil {
		return nil, apperr.FromStore(err, "Объявление не найдено")
	}

	s.publish(realtime.EventListingUpdated, l)
	return l, nil
}

// TransitionToInProgress переводит объявление в статус in-progress.
// Повторный вызов ничего не меняет.
func (s *ListingService) TransitionToInProgress(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return nil, apperr.FromStore(err, "Объявление не найдено")
	}
	changed, err := MarkInProgress(ctx, s.store.Listings(), l)
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(realtime.EventListingUpdated, l)
	}
	return l, nil
}

// MarkInProgress переводит уже прочитанное объявление в in-progress через repo.
// Возвращает false, если статус уже был in-progress.
func MarkInProgress(ctx context.Context, repo store.ListingRepository, l *models.Listing) (bool, error) {
	if l.Status == models.ListingStatusInProgress {
		return false, nil
	}
	if !l.Status.CanTransitionTo(models.ListingStatusInProgress) {
		return false, apperr.Validation("Недопустимый переход статуса объявления")
	}
	if err := repo.SetStatus(ctx, l.ID, models.ListingStatusInProgress); err != nil {
		return false, apperr.FromStore(err, "Объявление не найдено")
	}
	l.Status = models.ListingStatusInProgress
	return true, nil
}

// Delete удаляет объявление владельца, затем его предложения и чаты.
// Ошибки после удаления объявления не откатывают его и возвращаются
// как PartialCascadeError, повторный вызов для уже удаленного объявления вернет NotFound.
func (s *ListingService) Delete(ctx context.Context, id, requesterID uuid.UUID) error {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return apperr.FromStore(err, "Объявление не найдено")
	}
	if l.OwnerID != requesterID {
		return apperr.Forbidden("Вы не можете удалить чужое объявление")
	}

	if err := s.store.Listings().Delete(ctx, id); err != nil {
		s.logger.Error(ctx, "ошибка удаления объявления", "listing_id", id, "error", err)
		return apperr.Internal("Ошибка удаления объявления", err)
	}
	s.publish(realtime.EventListingDeleted, l)

	cascade := &apperr.PartialCascadeError{Completed: []string{StepDeleteListing}}

	if _, err := s.store.Negotiations().DeleteByListing(ctx, id); err != nil {
		cascade.Failed = append(cascade.Failed, apperr.StepError{Step: StepDeleteNegotiations, Err: err})
	} else {
		cascade.Completed = append(cascade.Completed, StepDeleteNegotiations)
	}

	if err := s.deleteConversations(ctx, id); err != nil {
		cascade.Failed = append(cascade.Failed, apperr.StepError{Step: StepDeleteConversations, Err: err})
	} else {
		cascade.Completed = append(cascade.Completed, StepDeleteConversations)
	}

	if len(cascade.Failed) > 0 {
		s.logger.Warn(ctx, "каскадное удаление объявления выполнено не полностью",
			"listing_id", id, "failed_steps", cascade.FailedSteps())
		return cascade
	}

	s.logger.Info(ctx, "объявление удалено", "listing_id", id)
	return nil
}

func (s *ListingService) deleteConversations(ctx context.Context, listingID uuid.UUID) error {
	convs, err := s.store.Conversations().ListByListing(ctx, listingID)
	if err != nil {
		return err
	}
	var errs []error
	for _, conv := range convs {
		if err := s.store.Conversations().Delete(ctx, conv.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		ev := realtime.Event{Type: realtime.EventConversationDeleted, ID: conv.ID, Ref: conv.ID}
		s.events.Publish(realtime.ConversationTopic(conv.ID), ev)
		s.events.Publish(realtime.TopicConversations, ev)
	}
	return errors.Join(errs...)
}

// attachOwners заполняет Owner. Отсутствующий владелец не ошибка.
func (s *ListingService) attachOwners(ctx context.Context, listings []*models.Listing) {
	owners := make(map[uuid.UUID]*models.UserSummary)
	for _, l := range listings {
		summary, ok := owners[l.OwnerID]
		if !ok {
			u, err := s.store.Users().Get(ctx, l.OwnerID)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					s.logger.Warn(ctx, "не удалось загрузить владельца объявления", "owner_id", l.OwnerID, "error", err)
				}
			} else {
				sum := u.Summary()
				summary = &sum
			}
			owners[l.OwnerID] = summary
		}
		l.Owner = summary
	}
}

func (s *ListingService) publish(t realtime.EventType, l *models.Listing) {
	s.events.Publish(realtime.TopicListings, realtime.Event{
		Type:    t,
		ID:      l.ID.String(),
		UserID:  l.OwnerID.String(),
		Payload: l,
	})
}

func pointers(listings []models.Listing) []*models.Listing {
	out := make([]*models.Listing, len(listings))
	for i := range listings {
		out[i] = &listings[i]
	}
	return out
}
