package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/traf3li/treasury/internal/token"
)

// ActorAuth validates the bearer token minted by the practice-management
// gateway and exposes the already-authenticated actor identity to handlers via
// the actor_id local.
func ActorAuth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		actorID, err := token.Verify(strings.TrimSpace(authz[len("Bearer "):]), secret)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals("actor_id", actorID)
		return c.Next()
	}
}
