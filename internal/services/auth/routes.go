package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
	"github.com/rajivgeraev/barterkita-api/internal/models"
)

// SetupPublicRoutes регистрирует маршруты входа
func (s *AuthService) SetupPublicRoutes(app *fiber.App) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)
	app.Post("/api/auth/register", s.RegisterHandler)
	app.Post("/api/auth/login", s.LoginHandler)
}

// SetupRoutes регистрирует защищенные маршруты профиля
func (s *AuthService) SetupRoutes(app *fiber.App) {
	profile := app.Group("/api/profile")
	profile.Use(middleware.AuthMiddleware(s.jwtService))

	profile.Get("/", s.GetProfile)
	profile.Put("/", s.UpdateProfileHandler)
}

// TelegramAuthHandler проверяет initData, создает JWT и возвращает его
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}
	if err := c.Bind().Body(&payload); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	session, err := s.TelegramLogin(ctx, payload.InitData)
	if err != nil {
		return err
	}
	return c.JSON(session)
}

// RegisterHandler регистрирует пользователя по email
func (s *AuthService) RegisterHandler(c fiber.Ctx) error {
	var payload Credentials
	if err := c.Bind().Body(&payload); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	session, err := s.Register(ctx, payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// LoginHandler выполняет вход по email и паролю
func (s *AuthService) LoginHandler(c fiber.Ctx) error {
	var payload Credentials
	if err := c.Bind().Body(&payload); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	session, err := s.Login(ctx, payload)
	if err != nil {
		return err
	}
	return c.JSON(session)
}

// GetProfile возвращает профиль текущего пользователя
func (s *AuthService) GetProfile(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": user})
}

// UpdateProfileHandler сохраняет профиль текущего пользователя
func (s *AuthService) UpdateProfileHandler(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	var payload models.ProfileInput
	if err := c.Bind().Body(&payload); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	user, err := s.UpdateProfile(ctx, userID, payload)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "user": user})
}
