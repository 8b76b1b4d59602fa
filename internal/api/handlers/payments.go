/**
 * @description
 * HTTP Handlers for fiat payments and their settlement lifecycle.
 * Payment creation is called after the card processor confirms the charge;
 * dispute/refund endpoints are driven by processor webhooks.
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

type PaymentHandler struct {
	Settlement *services.SettlementService
}

func NewPaymentHandler(settlement *services.SettlementService) *PaymentHandler {
	return &PaymentHandler{Settlement: settlement}
}

type createPaymentRequest struct {
	AmountUsd          float64 `json:"amount_usd"`
	ProjectID          uint64  `json:"project_id"`
	ChainID            uint64  `json:"chain_id"`
	BeneficiaryAddress string  `json:"beneficiary_address"`
	RiskScore          int     `json:"risk_score"`
}

// CreatePayment records a confirmed card payment for delayed settlement
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	payment, err := h.Settlement.CreatePendingPayment(c.Context(), userID, req.AmountUsd, req.ProjectID, req.ChainID, req.BeneficiaryAddress, req.RiskScore)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(payment)
}

// GetPayment returns one payment with its settlement state
// GET /api/v1/payments/:id
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	payment, err := h.Settlement.GetPayment(c.Context(), paymentID, userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Payment not found"})
	}
	return c.JSON(payment)
}

// DisputePayment flags a chargeback; the crypto leg never settles
// POST /api/v1/payments/:id/dispute
func (h *PaymentHandler) DisputePayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	if err := h.Settlement.MarkPaymentDisputed(c.Context(), paymentID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Dispute handling failed: " + err.Error()})
	}
	return c.JSON(fiber.Map{"status": "disputed"})
}

// RefundPayment closes a disputed payment once the fiat refund clears
// POST /api/v1/payments/:id/refund
func (h *PaymentHandler) RefundPayment(c *fiber.Ctx) error {
	paymentID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment id"})
	}

	if err := h.Settlement.MarkPaymentRefunded(c.Context(), paymentID); err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Refund handling failed: " + err.Error()})
	}
	return c.JSON(fiber.Map{"status": "refunded"})
}
