package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/cache/redis"
	"github.com/rc-assistant/backend/pkg/logger"
)

type PopularQuestionLister interface {
	PopularQuestions(ctx context.Context, limit int) ([]redis.PopularQuestion, error)
}

type QuestionsHandler struct {
	lister PopularQuestionLister
}

// NewQuestionsHandler accepts a nil lister when question counting is
// disabled; the list is then always empty.
func NewQuestionsHandler(lister PopularQuestionLister) *QuestionsHandler {
	return &QuestionsHandler{
		lister: lister,
	}
}

func (h *QuestionsHandler) GetPopular(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	if h.lister == nil {
		return c.JSON(fiber.Map{
			"questions": []redis.PopularQuestion{},
		})
	}

	questions, err := h.lister.PopularQuestions(c.UserContext(), limit)
	if err != nil {
		logger.Warn("Failed to load popular questions", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Popular questions are unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"questions": questions,
	})
}
