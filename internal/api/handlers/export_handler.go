package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/export"
	"github.com/nerves76/promptreviews-backend/pkg/logger"
)

type ExportHandler struct {
	accountID string
	service   *export.Service
}

func NewExportHandler(accountID string, service *export.Service) *ExportHandler {
	return &ExportHandler{
		accountID: accountID,
		service:   service,
	}
}

func (h *ExportHandler) HandleExport(c *fiber.Ctx) error {
	path, err := h.service.Download(c.Context(), h.accountID)
	if err != nil {
		logger.Error("Export failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Export failed",
		})
	}

	return c.JSON(fiber.Map{
		"path": path,
	})
}
