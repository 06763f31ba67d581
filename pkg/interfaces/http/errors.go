package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// ErrorResponse is the body of every rejected request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, entities.ErrStateConflict):
		return fiber.StatusConflict
	case errors.Is(err, entities.ErrInsufficientQuantity):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, entities.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, entities.ErrExternalSystem):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(ErrorResponse{Error: fe.Message})
		}

		status := statusFor(err)
		if status == fiber.StatusInternalServerError {
			logger.Error("unexpected error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(status).JSON(ErrorResponse{Error: "internal server error"})
		}
		return c.Status(status).JSON(ErrorResponse{Error: err.Error(), Code: entities.ErrorCode(err)})
	}
}
