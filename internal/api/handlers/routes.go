package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Routes wires the handlers and the per-request middleware onto an app.
type Routes struct {
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
	Reference *ReferenceHandler
	Questions *QuestionsHandler
	Health    *HealthHandler

	Auth       fiber.Handler
	RateLimit  fiber.Handler
	Validation fiber.Handler
}

func (r Routes) Register(app *fiber.App) {
	api := app.Group("/api/v1")

	api.Get("/health", r.Health.Health)
	api.Get("/ready", r.Health.Ready)

	protected := api.Group("", passThrough(r.Auth), passThrough(r.RateLimit), passThrough(r.Validation))

	protected.Post("/chat", r.Chat.HandleChat)
	protected.Get("/chat", r.Chat.GetChat)
	protected.Post("/chat/sessions/clear", r.Chat.ClearSessions)
	protected.Delete("/chat/sessions/:id", r.Chat.DeleteSession)

	if r.WebSocket != nil {
		protected.Get("/chat/ws", func(c *fiber.Ctx) error {
			if !websocket.IsWebSocketUpgrade(c) {
				return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
					"error": "WebSocket upgrade required",
				})
			}
			return c.Next()
		}, websocket.New(r.WebSocket.HandleConnection))
	}

	protected.Post("/reference/journals", r.Reference.LookupJournal)
	protected.Get("/reference/institutions", r.Reference.LookupInstitution)
	protected.Get("/reference/institutions/top", r.Reference.TopInstitutions)

	protected.Get("/questions/popular", r.Questions.GetPopular)
}

func passThrough(h fiber.Handler) fiber.Handler {
	if h == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return h
}
