// Package auth reads the caller identity forwarded by the authenticating
// front end and rejects requests without one.
package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"

	// Locals keys, also visible on upgraded websocket connections.
	LocalUserID = "user_id"
	LocalRole   = "user_role"
)

const (
	RolePublic      = "public"
	RoleStudent     = "student"
	RoleMember      = "member"
	RoleChairperson = "chairperson"
	RoleAdmin       = "admin"
)

var knownRoles = map[string]bool{
	RolePublic:      true,
	RoleStudent:     true,
	RoleMember:      true,
	RoleChairperson: true,
	RoleAdmin:       true,
}

type Config struct {
	// Roles limits access to the listed roles; empty allows every known role.
	Roles  []string
	Logger *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	allowed := make(map[string]bool, len(cfg.Roles))
	for _, r := range cfg.Roles {
		allowed[r] = true
	}

	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(utils.CopyString(c.Get(HeaderUserID)))
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		role := strings.ToLower(strings.TrimSpace(utils.CopyString(c.Get(HeaderRole))))
		if role == "" {
			role = RolePublic
		}

		if !knownRoles[role] || (len(allowed) > 0 && !allowed[role]) {
			cfg.Logger.Warn("Role not permitted",
				zap.String("user_id", userID),
				zap.String("role", role),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Forbidden",
			})
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalRole, role)

		return c.Next()
	}
}

// UserID returns the caller set by Middleware, or "".
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// Role returns the caller's role set by Middleware, or "".
func Role(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalRole).(string)
	return role
}
