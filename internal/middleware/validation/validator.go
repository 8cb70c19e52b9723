package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	localChatRequest    = "chat_request"
	localJournalRequest = "journal_request"
)

var (
	xssPattern  = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	issnPattern = regexp.MustCompile(`^\d{4}-?\d{3}[\dXx]$`)
)

type Config struct {
	MaxMessageChars     int
	MaxYears            int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ChatRequest is the validated body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Stream    bool   `json:"stream"`
}

// JournalRequest is the validated body of POST /reference/journals.
type JournalRequest struct {
	Query string `json:"query"`
	ISSN  string `json:"issn"`
	Years []int  `json:"years"`
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageChars == 0 {
		cfg.MaxMessageChars = 5000
	}
	if cfg.MaxYears == 0 {
		cfg.MaxYears = 10
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		switch {
		case strings.HasSuffix(path, "/chat"):
			var req ChatRequest
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return badRequest(c, "Invalid JSON format")
			}

			message := sanitizeString(req.Message)
			if message == "" {
				return badRequest(c, "Message is required")
			}
			if utf8.RuneCountInString(message) > cfg.MaxMessageChars {
				return badRequest(c, "Message exceeds maximum length")
			}
			if containsXSS(message) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("path", path),
				)
				return badRequest(c, "Invalid message content")
			}

			req.Message = message
			req.SessionID = strings.TrimSpace(req.SessionID)
			c.Locals(localChatRequest, &req)

		case strings.HasSuffix(path, "/reference/journals"):
			var req JournalRequest
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return badRequest(c, "Invalid JSON format")
			}

			req.Query = sanitizeString(req.Query)
			req.ISSN = strings.TrimSpace(req.ISSN)
			if req.Query == "" && req.ISSN == "" {
				return badRequest(c, "Journal name or ISSN is required")
			}
			if req.ISSN != "" && !issnPattern.MatchString(req.ISSN) {
				return badRequest(c, "Invalid ISSN format")
			}
			if len(req.Years) > cfg.MaxYears {
				return badRequest(c, "Too many years requested")
			}
			for _, y := range req.Years {
				if y < 1900 || y > 2100 {
					return badRequest(c, "Invalid year")
				}
			}

			c.Locals(localJournalRequest, &req)
		}

		return c.Next()
	}
}

// Chat returns the request validated by Middleware, or nil.
func Chat(c *fiber.Ctx) *ChatRequest {
	req, _ := c.Locals(localChatRequest).(*ChatRequest)
	return req
}

// Journal returns the request validated by Middleware, or nil.
func Journal(c *fiber.Ctx) *JournalRequest {
	req, _ := c.Locals(localJournalRequest).(*JournalRequest)
	return req
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
