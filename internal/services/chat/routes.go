package chat

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API чатов
func (s *ChatService) SetupRoutes(app *fiber.App) {
	// Группа для API чатов
	api := app.Group("/api/chats")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения всех чатов пользователя
	api.Get("/", s.GetChats)

	// Маршрут для создания нового чата
	api.Post("/", s.CreateChat)

	// Маршрут для получения сообщений чата
	api.Get("/:id/messages", s.GetChatMessages)

	// Маршрут для отправки сообщения
	api.Post("/:id/messages", s.PostMessage)

	// Согласие на обмен и повторное завершение после сбоя
	api.Post("/:id/agree", s.Agree)
	api.Post("/:id/resolve", s.Resolve)
}

// GetChats возвращает список чатов пользователя
func (s *ChatService) GetChats(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	contacts, err := s.Contacts(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"chats": contacts})
}

// CreateChat открывает чат с владельцем объявления или с автором предложения
func (s *ChatService) CreateChat(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var requestData struct {
		UserID    string `json:"user_id"`
		ListingID string `json:"listing_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	counterpartID, err := uuid.Parse(requestData.UserID)
	if err != nil {
		return apperr.Validation("Неверный формат ID пользователя")
	}
	listingID, err := uuid.Parse(requestData.ListingID)
	if err != nil {
		return apperr.Validation("Неверный формат ID объявления")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	conv, err := s.StartConversation(ctx, userID, counterpartID, listingID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":         true,
		"conversation_id": conv.ID,
		"conversation":    conv,
	})
}

// GetChatMessages возвращает сообщения чата
func (s *ChatService) GetChatMessages(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	msgs, err := s.Messages(ctx, c.Params("id"), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"messages": msgs})
}

// PostMessage отправляет сообщение в чат
func (s *ChatService) PostMessage(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var requestData struct {
		Text string `json:"text"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	msg, err := s.SendMessage(ctx, c.Params("id"), userID, requestData.Text)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": msg,
	})
}

// Agree фиксирует согласие пользователя и завершает обмен, если согласны оба
func (s *ChatService) Agree(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	conversationID := c.Params("id")

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	result, err := s.RecordAgreement(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	resp := fiber.Map{
		"already_agreed": result.AlreadyAgreed,
		"agreements":     result.Agreements,
	}
	if s.resolver != nil {
		resolution, err := s.resolver.Resolve(ctx, conversationID)
		if err != nil {
			return err
		}
		resp["resolution"] = resolution
	}

	return c.JSON(resp)
}

// Resolve повторно запускает завершение обмена. Для уже завершенного обмена ничего не делает.
func (s *ChatService) Resolve(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	if s.resolver == nil {
		return apperr.Internal("Завершение обмена недоступно", nil)
	}
	conversationID := c.Params("id")

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	ok, err := s.CanAccessConversation(ctx, conversationID, userID)
	if err != nil {
		return apperr.FromStore(err, "Чат не найден")
	}
	if !ok {
		return apperr.Forbidden("Вы не участвуете в этом чате")
	}

	resolution, err := s.resolver.Resolve(ctx, conversationID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"resolution": resolution})
}
