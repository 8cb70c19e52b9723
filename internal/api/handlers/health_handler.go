package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// CacheStatus is implemented by the reference caches.
type CacheStatus interface {
	Name() string
	Loaded() bool
	Len() int
}

type HealthHandler struct {
	caches []CacheStatus
	ping   func() error
}

func NewHealthHandler(ping func() error, caches ...CacheStatus) *HealthHandler {
	return &HealthHandler{
		caches: caches,
		ping:   ping,
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready reports the database and reference cache state. Unloaded caches do
// not make the service unready: they load on first use.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	caches := fiber.Map{}
	for _, cache := range h.caches {
		caches[cache.Name()] = fiber.Map{
			"loaded":  cache.Loaded(),
			"records": cache.Len(),
		}
	}

	if h.ping != nil {
		if err := h.ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"caches": caches,
			})
		}
	}

	return c.JSON(fiber.Map{
		"status": "ready",
		"caches": caches,
	})
}
