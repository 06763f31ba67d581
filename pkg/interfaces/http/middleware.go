package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderWarehouse = "X-Warehouse"

	ctxCallerKey = "caller"
)

// CallerMiddleware reads the caller identity and warehouse context from request headers.
// Services reject a missing identity with a named reason.
func CallerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(ctxCallerKey, entities.Caller{
			UserID:    c.Get(HeaderUserID),
			Warehouse: c.Get(HeaderWarehouse),
		})
		return c.Next()
	}
}

func callerOf(c *fiber.Ctx) entities.Caller {
	caller, _ := c.Locals(ctxCallerKey).(entities.Caller)
	return caller
}
