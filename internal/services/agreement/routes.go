package agreement

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/barterkita-api/internal/db"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API обменов
func (r *Resolver) SetupRoutes(app *fiber.App) {
	// Группа для API обменов
	api := app.Group("/api/trades")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(r.jwtService))

	// История завершенных обменов
	api.Get("/history", r.GetTradeHistory)
}

// GetTradeHistory возвращает завершенные обмены текущего пользователя
func (r *Resolver) GetTradeHistory(c fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}

	ctx, cancel := db.GetContext(r.cfg.RequestTimeout)
	defer cancel()

	trades, err := r.TradeHistory(ctx, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"trades": trades})
}
