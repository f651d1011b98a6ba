package listing

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
	"github.com/rajivgeraev/barterkita-api/internal/models"
)

// SetupRoutes настраивает маршруты для API объявлений
func (s *ListingService) SetupRoutes(app *fiber.App) {
	// Группа для API объявлений
	api := app.Group("/api/listings")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для создания объявления
	api.Post("/create", s.CreateListing)

	// Маршрут для получения списка своих объявлений
	api.Get("/my", s.GetMyListings)

	// Маршрут для получения одного объявления по ID
	api.Get("/:id", s.GetListing)

	// Маршрут для обновления объявления
	api.Put("/:id", s.UpdateListing)

	// Маршрут для удаления объявления
	api.Delete("/:id", s.DeleteListing)
}

// SetupPublicRoutes настраивает публичные маршруты для листингов.
// Регистрируется до SetupRoutes, иначе запрос перехватит middleware группы.
func (s *ListingService) SetupPublicRoutes(app *fiber.App) {
	// Публичный маршрут для списка объявлений
	app.Get("/api/listings", s.GetPublicListings)
}

// CreateListing создает новое объявление
func (s *ListingService) CreateListing(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var requestData models.ListingInput
	if err := c.Bind().Body(&requestData); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	listing, err := s.Create(ctx, userID, requestData)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"listing": listing,
	})
}

// GetMyListings возвращает объявления текущего пользователя
func (s *ListingService) GetMyListings(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	listings, err := s.ListByOwner(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"listings": listings})
}

// GetListing возвращает объявление по ID
func (s *ListingService) GetListing(c fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	listing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(listing)
}

// UpdateListing обновляет объявление владельца
func (s *ListingService) UpdateListing(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	id, err := listingID(c)
	if err != nil {
		return err
	}

	var requestData models.ListingInput
	if err := c.Bind().Body(&requestData); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	listing, err := s.Update(ctx, id, userID, requestData)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"listing": listing,
	})
}

// DeleteListing удаляет объявление вместе с предложениями и чатами
func (s *ListingService) DeleteListing(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	id, err := listingID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	if err := s.Delete(ctx, id, userID); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Объявление удалено",
	})
}

// GetPublicListings возвращает ленту объявлений
func (s *ListingService) GetPublicListings(c fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.ListMarketplace(ctx, limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(resp)
}

func listingID(c fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("Неверный формат ID объявления")
	}
	return id, nil
}
