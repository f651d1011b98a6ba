package negotiation

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
	"github.com/rajivgeraev/barterkita-api/internal/models"
)

// SetupRoutes настраивает маршруты для API предложений обмена
func (s *NegotiationService) SetupRoutes(app *fiber.App) {
	// Группа для API предложений
	api := app.Group("/api/negotiations")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для создания предложения обмена
	api.Post("/", s.CreateNegotiation)

	// Входящие предложения и предложения пользователя
	api.Get("/incoming", s.GetIncomingOffers)
	api.Get("/taken", s.GetOffersTaken)

	api.Get("/:id", s.GetNegotiation)

	// Маршрут для принятия предложения владельцем объявления
	api.Put("/:id/accept", s.AcceptNegotiation)
}

// CreateNegotiation создает предложение обмена по объявлению
func (s *NegotiationService) CreateNegotiation(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var requestData struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return apperr.Validation("Неверный формат данных")
	}
	listingID, err := uuid.Parse(requestData.ListingID)
	if err != nil {
		return apperr.Validation("Неверный формат ID объявления")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	n, err := s.Propose(ctx, listingID, userID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":         true,
		"negotiation":     n,
		"conversation_id": models.ConversationID(n.ListingOwnerID, n.ProposerID, n.ListingID),
	})
}

// AcceptNegotiation принимает предложение
func (s *NegotiationService) AcceptNegotiation(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Validation("Неверный формат ID предложения")
	}

	var requestData struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return apperr.Validation("Неверный формат данных")
	}
	listingID, err := uuid.Parse(requestData.ListingID)
	if err != nil {
		return apperr.Validation("Неверный формат ID объявления")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	n, err := s.Accept(ctx, id, listingID, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"negotiation": n,
	})
}

// GetNegotiation возвращает предложение его участнику
func (s *NegotiationService) GetNegotiation(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Validation("Неверный формат ID предложения")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	n, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.ListingOwnerID != userID && n.ProposerID != userID {
		return apperr.Forbidden("Нет доступа к предложению")
	}

	return c.JSON(n)
}

// GetIncomingOffers возвращает предложения по объявлениям пользователя
func (s *NegotiationService) GetIncomingOffers(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	offers, err := s.IncomingOffers(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"offers": offers})
}

// GetOffersTaken возвращает предложения, сделанные пользователем
func (s *NegotiationService) GetOffersTaken(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	offers, err := s.OffersTaken(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"offers": offers})
}
