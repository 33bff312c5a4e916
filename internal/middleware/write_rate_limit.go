package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// WriteRateLimit caps ledger-mutating requests per actor per minute using
// Redis if available. Reads are never limited.
func WriteRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil || c.Method() == fiber.MethodGet {
			return c.Next()
		}
		actor, _ := c.Locals("actor_id").(string)
		if actor == "" {
			actor = c.IP()
		}
		key := "rl:write:" + actor
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many transfer requests, try again later")
		}
		return c.Next()
	}
}
