package middleware

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/billing"
	"github.com/ulsoftuz/bizora/internal/pkg/database"
)

// BusinessContextKey is the Locals key the authenticated business is stored
// under for downstream handlers.
const BusinessContextKey = "BUSINESS_CONTEXT"

// APIKeyAuthMiddleware authenticates requests carrying a business API key
// header. Keys are stored hashed; the raw key never touches the database.
func APIKeyAuthMiddleware(repo billing.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		hash := models.HashAPIKey(apiKey)
		business, err := repo.FindBusinessByAPIKeyHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Printf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if !business.IsActive() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Business inactive"})
		}

		// Refresh last-used timestamp best-effort.
		if db := database.GetDB(); db != nil {
			now := time.Now()
			if err := db.Model(&models.Business{}).
				Where("id = ?", business.ID).
				Updates(map[string]any{"api_key_last_used_at": now}).Error; err != nil {
				log.Printf("failed to update api key usage timestamp for business %d: %v", business.ID, err)
			}
		}

		c.Locals(BusinessContextKey, business)
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
