package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/storage/models"
)

type Config struct {
	MaxPageSize         int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed requests before they reach a handler:
// unknown providers or funnel stages on the visibility and check routes,
// oversized pagination, unexpected content types.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxPageSize == 0 {
		cfg.MaxPageSize = 200
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !typeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.Contains(path, "/api/v1/visibility") {
			if size := c.QueryInt("pageSize", 0); size > cfg.MaxPageSize {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "pageSize exceeds maximum",
				})
			}
		}

		if strings.HasSuffix(path, "/checks/start") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			rawProviders, ok := req["providers"].([]interface{})
			if !ok || len(rawProviders) == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "providers is required and must be a non-empty array",
				})
			}

			for _, raw := range rawProviders {
				name, ok := raw.(string)
				if !ok || !models.Provider(name).Valid() {
					if cfg.Logger != nil {
						cfg.Logger.Warn("Rejected unknown provider",
							zap.String("ip", c.IP()),
							zap.Any("provider", raw),
						)
					}
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "unknown provider",
					})
				}
			}
		}

		if strings.HasSuffix(path, "/checks/retry") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			runID, ok := req["run_id"].(string)
			if !ok || runID == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "run_id is required and must be a string",
				})
			}
		}

		return c.Next()
	}
}

func typeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
