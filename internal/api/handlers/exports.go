/**
 * @description
 * HTTP Handlers for custody exports.
 * Request -> review snapshot -> confirm -> per-chain outcomes, with retry for
 * partially failed exports.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/api/middleware"
	"github.com/mejango/juicy-vision-sub002/internal/services"
)

type ExportHandler struct {
	Exports *services.ExportService
}

func NewExportHandler(exports *services.ExportService) *ExportHandler {
	return &ExportHandler{Exports: exports}
}

type createExportRequest struct {
	NewOwnerAddress string `json:"new_owner_address"`
}

// CreateExport opens an export request and returns the confirmation snapshot
// POST /api/v1/exports
func (h *ExportHandler) CreateExport(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req createExportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}
	if req.NewOwnerAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "new_owner_address is required"})
	}

	export, err := h.Exports.RequestExport(c.Context(), userID, req.NewOwnerAddress)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Export request failed: " + err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(export)
}

// GetExport returns the export with its per-chain statuses
// GET /api/v1/exports/:id
func (h *ExportHandler) GetExport(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	exportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid export id"})
	}

	export, err := h.Exports.GetExport(c.Context(), exportID, userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Export not found"})
	}
	return c.JSON(export)
}

// ConfirmExport starts the per-chain ownership transfers
// POST /api/v1/exports/:id/confirm
func (h *ExportHandler) ConfirmExport(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	exportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid export id"})
	}

	export, err := h.Exports.ConfirmExport(c.Context(), exportID, userID)
	if err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Confirmation failed: " + err.Error()})
	}
	return c.JSON(export)
}

// RetryExport re-attempts the chains that didn't complete
// POST /api/v1/exports/:id/retry
func (h *ExportHandler) RetryExport(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	exportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid export id"})
	}

	export, err := h.Exports.RetryExport(c.Context(), exportID, userID)
	if err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Retry failed: " + err.Error()})
	}
	return c.JSON(export)
}

// CancelExport cancels an export that hasn't started
// DELETE /api/v1/exports/:id
func (h *ExportHandler) CancelExport(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	exportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid export id"})
	}

	if err := h.Exports.CancelExport(c.Context(), exportID, userID); err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cancellation failed: " + err.Error()})
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}
