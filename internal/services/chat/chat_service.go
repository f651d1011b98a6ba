package chat

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/realtime"
	"github.com/rajivgeraev/barterkita-api/internal/store"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

// contactsConcurrency ограничивает число параллельных запросов при сборке списка чатов
const contactsConcurrency = 8

// AgreementResolver завершает обмен, когда оба участника согласны
type AgreementResolver interface {
	Resolve(ctx context.Context, conversationID string) (*models.Resolution, error)
}

// Presence сообщает, подключен ли пользователь
type Presence interface {
	Online(userID uuid.UUID) bool
}

// ChatService представляет сервис для работы с чатами
type ChatService struct {
	cfg        *config.Config
	store      store.Store
	events     realtime.Publisher
	resolver   AgreementResolver
	presence   Presence
	jwtService *utils.JWTService
	logger     logging.Logger
}

// NewChatService создает новый экземпляр ChatService
func NewChatService(cfg *config.Config, st store.Store, events realtime.Publisher, jwtService *utils.JWTService, logger logging.Logger) *ChatService {
	return &ChatService{
		cfg:        cfg,
		store:      st,
		events:     events,
		jwtService: jwtService,
		logger:     logger.With("service", "chat"),
	}
}

// SetResolver подключает завершение обмена к маршрутам agree и resolve
func (s *ChatService) SetResolver(r AgreementResolver) {
	s.resolver = r
}

// SetPresence подключает признак онлайн собеседника в списке чатов
func (s *ChatService) SetPresence(p Presence) {
	s.presence = p
}

// ConversationID возвращает детерминированный идентификатор чата
func (s *ChatService) ConversationID(userA, userB, listingID uuid.UUID) string {
	return models.ConversationID(userA, userB, listingID)
}

// Ensure создает чат через repo, если его еще нет. Безопасно при конкурентных вызовах.
func Ensure(ctx context.Context, repo store.ConversationRepository, userA, userB, listingID uuid.UUID) (*models.Conversation, bool, error) {
	if userA == userB {
		return nil, false, apperr.Validation("Нельзя создать чат с самим собой")
	}
	participants := [2]uuid.UUID{userA, userB}
	if userB.String() < userA.String() {
		participants = [2]uuid.UUID{userB, userA}
	}

	conv := &models.Conversation{
		ID:           models.ConversationID(userA, userB, listingID),
		ListingID:    listingID,
		Participants: participants,
	}
	created, err := repo.Ensure(ctx, conv)
	if err != nil {
		return nil, false, apperr.FromStore(err, "Объявление не найдено")
	}
	return conv, created, nil
}

// EnsureConversation возвращает чат двух пользователей по объявлению, создавая его при необходимости
func (s *ChatService) EnsureConversation(ctx context.Context, userA, userB, listingID uuid.UUID) (*models.Conversation, error) {
	conv, created, err := Ensure(ctx, s.store.Conversations(), userA, userB, listingID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info(ctx, "чат создан", "conversation_id", conv.ID)
		s.PublishConversation(realtime.EventConversationCreated, conv)
	}
	return conv, nil
}

// StartConversation открывает чат по объявлению. Один из участников должен быть его владельцем.
func (s *ChatService) StartConversation(ctx context.Context, userID, counterpartID, listingID uuid.UUID) (*models.Conversation, error) {
	if userID == counterpartID {
		return nil, apperr.Validation("Нельзя создать чат с самим собой")
	}
	l, err := s.store.Listings().Get(ctx, listingID)
	if err != nil {
		return nil, apperr.FromStore(err, "Объявление не найдено")
	}
	if l.OwnerID != userID && l.OwnerID != counterpartID {
		return nil, apperr.Validation("Чат открывается только с владельцем объявления")
	}
	return s.EnsureConversation(ctx, userID, counterpartID, listingID)
}

// RecordAgreement фиксирует согласие участника. Повторный вызов состояние не меняет.
func (s *ChatService) RecordAgreement(ctx context.Context, conversationID string, userID uuid.UUID) (*models.AgreementResult, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	agreements, already, err := s.store.Conversations().RecordAgreement(ctx, conv.ID, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "Чат не найден")
	}

	if !already {
		conv.Agreements = agreements
		s.logger.Info(ctx, "согласие зафиксировано", "conversation_id", conv.ID, "user_id", userID)
		s.PublishConversation(realtime.EventConversationUpdated, conv)
	}
	return &models.AgreementResult{AlreadyAgreed: already, Agreements: agreements}, nil
}

// SendMessage добавляет сообщение в чат. Если чата еще нет, он создается:
// участники и объявление восстанавливаются из идентификатора.
func (s *ChatService) SendMessage(ctx context.Context, conversationID string, senderID uuid.UUID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("Сообщение не может быть пустым")
	}

	parts, err := models.SplitConversationID(conversationID)
	if err != nil {
		return nil, apperr.Validation("Неверный идентификатор чата")
	}
	if !slices.Contains(parts[:], senderID) {
		return nil, apperr.Forbidden("Вы не участвуете в этом чате")
	}

	conv, err := s.store.Conversations().Get(ctx, conversationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		conv, err = s.recreate(ctx, parts)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, apperr.FromStore(err, "Чат не найден")
	}
	if !conv.HasParticipant(senderID) {
		return nil, apperr.Forbidden("Вы не участвуете в этом чате")
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		SenderDisplay:  s.displayName(ctx, senderID),
		Text:           text,
	}
	if err := s.store.Messages().Append(ctx, msg); err != nil {
		s.logger.Error(ctx, "ошибка сохранения сообщения", "conversation_id", conv.ID, "error", err)
		return nil, apperr.FromStore(err, "Чат не найден")
	}

	ev := realtime.Event{
		Type:    realtime.EventNewMessage,
		ID:      msg.ID.String(),
		Ref:     conv.ID,
		UserID:  senderID.String(),
		Payload: msg,
	}
	s.events.Publish(realtime.ConversationTopic(conv.ID), ev)
	s.events.Publish(realtime.UserTopic(conv.Counterpart(senderID)), ev)
	return msg, nil
}

// recreate создает отсутствующий чат. Частью-объявлением считается та,
// что находится в таблице объявлений, две другие части это участники.
func (s *ChatService) recreate(ctx context.Context, parts [3]uuid.UUID) (*models.Conversation, error) {
	for i, candidate := range parts {
		if _, err := s.store.Listings().Get(ctx, candidate); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, apperr.FromStore(err, "")
		}
		var users []uuid.UUID
		for j, p := range parts {
			if j != i {
				users = append(users, p)
			}
		}
		return s.EnsureConversation(ctx, users[0], users[1], candidate)
	}
	return nil, apperr.NotFound("Объявление для чата не найдено")
}

// Messages возвращает сообщения чата по возрастанию времени
func (s *ChatService) Messages(ctx context.Context, conversationID string, userID uuid.UUID) ([]models.Message, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages().List(ctx, conv.ID)
	if err != nil {
		return nil, apperr.FromStore(err, "Чат не найден")
	}
	return msgs, nil
}

// Contacts возвращает чаты пользователя с собеседником, названием объявления и последним сообщением
func (s *ChatService) Contacts(ctx context.Context, userID uuid.UUID) ([]models.Contact, error) {
	convs, err := s.store.Conversations().ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}

	contacts := make([]models.Contact, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(contactsConcurrency)
	for i := range convs {
		conv := convs[i]
		g.Go(func() error {
			contact, err := s.contact(gctx, &conv, userID)
			if err != nil {
				return err
			}
			contacts[i] = *contact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.FromStore(err, "")
	}
	return contacts, nil
}

func (s *ChatService) contact(ctx context.Context, conv *models.Conversation, userID uuid.UUID) (*models.Contact, error) {
	counterpartID := conv.Counterpart(userID)
	contact := &models.Contact{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		Counterpart:    models.UserSummary{ID: counterpartID},
		AgreedByMe:     conv.Agreements[userID],
		CreatedAt:      conv.CreatedAt,
	}
	if s.presence != nil {
		contact.Online = s.presence.Online(counterpartID)
	}

	u, err := s.store.Users().Get(ctx, counterpartID)
	switch {
	case err == nil:
		contact.Counterpart = u.Summary()
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	l, err := s.store.Listings().Get(ctx, conv.ListingID)
	switch {
	case err == nil:
		contact.ListingTitle = l.Title
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	last, err := s.store.Messages().Last(ctx, conv.ID)
	switch {
	case err == nil:
		contact.LastMessage = last
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return contact, nil
}

// CanAccessConversation разрешает доступ участникам чата. Для еще не созданного
// чата участником считается пользователь, чей id входит в идентификатор.
func (s *ChatService) CanAccessConversation(ctx context.Context, conversationID string, userID uuid.UUID) (bool, error) {
	conv, err := s.store.Conversations().Get(ctx, conversationID)
	if err == nil {
		return conv.HasParticipant(userID), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	parts, err := models.SplitConversationID(conversationID)
	if err != nil {
		return false, nil
	}
	return slices.Contains(parts[:], userID), nil
}

// PublishConversation отправляет событие чата в общий топик и топик самого чата
func (s *ChatService) PublishConversation(t realtime.EventType, conv *models.Conversation) {
	ev := realtime.Event{Type: t, ID: conv.ID, Ref: conv.ID, Payload: conv}
	s.events.Publish(realtime.TopicConversations, ev)
	s.events.Publish(realtime.ConversationTopic(conv.ID), ev)
}

func (s *ChatService) participantConversation(ctx context.Context, conversationID string, userID uuid.UUID) (*models.Conversation, error) {
	conv, err := s.store.Conversations().Get(ctx, conversationID)
	if err != nil {
		return nil, apperr.FromStore(err, "Чат не найден")
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("Вы не участвуете в этом чате")
	}
	return conv, nil
}

func (s *ChatService) displayName(ctx context.Context, userID uuid.UUID) string {
	u, err := s.store.Users().Get(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return "Пользователь"
	}
	return u.DisplayName
}
