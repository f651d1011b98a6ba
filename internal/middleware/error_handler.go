package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
)

// StatusOf возвращает HTTP статус для кода ошибки
func StatusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case apperr.CodePermissionDenied:
		return fiber.StatusForbidden
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodeAlreadyExists:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler обрабатывает ошибки Fiber и прикладные ошибки
func ErrorHandler(logger logging.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
			})
		}

		code := apperr.CodeOf(err)
		status := StatusOf(code)
		body := fiber.Map{
			"error": apperr.MessageOf(err),
			"code":  code,
		}

		var pce *apperr.PartialCascadeError
		if errors.As(err, &pce) {
			body["retryable"] = true
			body["failed_steps"] = pce.FailedSteps()
		} else if code == apperr.CodeInternal {
			body["retryable"] = true
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error(c.Context(), "ошибка обработки запроса",
				"method", c.Method(), "path", c.Path(), "code", code, "error", err)
		}

		return c.Status(status).JSON(body)
	}
}
