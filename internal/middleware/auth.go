package middleware

import (
	"strings"

	"shopcore/internal/apperrors"
	"shopcore/internal/models"
	"shopcore/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	localUserID   = "user_id"
	localUsername = "username"
	localRole     = "role"
)

func abort(c *fiber.Ctx, err error) error {
	return c.Status(apperrors.HTTPStatus(apperrors.KindOf(err))).JSON(apperrors.Body(err))
}

// AuthRequired is a Fiber middleware to check for a valid JWT token.
func AuthRequired(authService *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return abort(c, apperrors.New(apperrors.KindUnauthorized, "Authorization header is required"))
		}

		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			return abort(c, apperrors.New(apperrors.KindUnauthorized, "Authorization header format must be 'Bearer <token>'"))
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			log.Debug().Err(err).Str("path", c.Path()).Msg("JWT validation failed")
			return abort(c, apperrors.New(apperrors.KindUnauthorized, "Invalid or expired token"))
		}

		userID, _ := claims["user_id"].(string)
		username, _ := claims["username"].(string)
		role := models.Role(stringClaim(claims, "role"))
		if userID == "" || !role.Valid() {
			return abort(c, apperrors.New(apperrors.KindUnauthorized, "Invalid or expired token"))
		}

		c.Locals(localUserID, userID)
		c.Locals(localUsername, username)
		c.Locals(localRole, role)

		return c.Next()
	}
}

func stringClaim(claims map[string]interface{}, key string) string {
	v, _ := claims[key].(string)
	return v
}

// AdminRequired rejects callers without the admin role. It must run after
// AuthRequired.
func AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CurrentActor(c).IsAdmin() {
			return abort(c, apperrors.Forbidden("admin role required"))
		}
		return c.Next()
	}
}

// CurrentActor returns the authenticated principal stored by AuthRequired.
func CurrentActor(c *fiber.Ctx) services.Actor {
	userID, _ := c.Locals(localUserID).(string)
	role, _ := c.Locals(localRole).(models.Role)
	return services.Actor{UserID: userID, Role: role}
}
