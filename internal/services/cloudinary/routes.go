package cloudinary

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
)

// SetupRoutes настраивает маршруты загрузки изображений
func (s *CloudinaryService) SetupRoutes(app *fiber.App) {
	upload := app.Group("/api/upload")

	// Защищенные маршруты
	upload.Use(middleware.AuthMiddleware(s.jwtService))

	// Маршрут для получения параметров загрузки
	upload.Get("/params", s.GenerateUploadParams)
}

// GenerateUploadParams возвращает подписанные параметры загрузки
func (s *CloudinaryService) GenerateUploadParams(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(s.cfg.RequestTimeout)
	defer cancel()

	params, err := s.UploadParams(ctx, userID)
	if err != nil {
		return err
	}
	return c.JSON(params)
}
