/**
 * @description
 * HTTP Handlers for withdrawals (transfers out of custody).
 * Immediate transfers execute inline; delayed transfers sit behind the
 * security hold until the worker picks them up.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/models
 */

package handlers

import (
	"math/big"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/api/middleware"
	"github.com/mejango/juicy-vision-sub002/internal/models"
	"github.com/mejango/juicy-vision-sub002/internal/services"
)

type TransferHandler struct {
	Scheduler *services.TransferScheduler
}

func NewTransferHandler(scheduler *services.TransferScheduler) *TransferHandler {
	return &TransferHandler{Scheduler: scheduler}
}

type createTransferRequest struct {
	ChainID      uint64 `json:"chain_id"`
	TokenAddress string `json:"token_address"` // empty for the native asset
	Amount       string `json:"amount"`        // wei / token base units, decimal string
	ToAddress    string `json:"to_address"`
	Type         string `json:"type"` // "immediate" or "delayed"; defaults to delayed
}

// CreateTransfer requests a withdrawal
// POST /api/v1/transfers
func (h *TransferHandler) CreateTransfer(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req createTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	amount := new(big.Int)
	if _, ok := amount.SetString(req.Amount, 10); !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid amount"})
	}

	transferType := models.TransferDelayed
	if req.Type == string(models.TransferImmediate) {
		transferType = models.TransferImmediate
	}

	transfer, err := h.Scheduler.RequestTransfer(c.Context(), userID, req.ChainID, req.TokenAddress, amount, req.ToAddress, transferType)
	if err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Transfer request failed: " + err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(transfer)
}

// GetTransfer returns one of the user's transfers
// GET /api/v1/transfers/:id
func (h *TransferHandler) GetTransfer(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid transfer id"})
	}

	transfer, err := h.Scheduler.GetTransfer(c.Context(), transferID, userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Transfer not found"})
	}
	return c.JSON(transfer)
}

// CancelTransfer cancels a delayed transfer still inside its hold window
// DELETE /api/v1/transfers/:id
func (h *TransferHandler) CancelTransfer(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid transfer id"})
	}

	if err := h.Scheduler.CancelTransfer(c.Context(), transferID, userID); err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Cancellation failed: " + err.Error()})
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}
