/**
 * @description
 * HTTP Handlers for smart account management.
 * Exposes endpoints to resolve counterfactual addresses, list accounts across
 * chains, and force a deployment.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/api/middleware
 */

package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/mejango/juicy-vision-sub002/internal/api/middleware"
	"github.com/mejango/juicy-vision-sub002/internal/services"
)

type AccountHandler struct {
	Registry   *services.AccountRegistry
	Deployment *services.DeploymentManager
}

func NewAccountHandler(registry *services.AccountRegistry, deployment *services.DeploymentManager) *AccountHandler {
	return &AccountHandler{Registry: registry, Deployment: deployment}
}

// parseChainID reads the :chainID route param.
func parseChainID(c *fiber.Ctx) (uint64, error) {
	return strconv.ParseUint(c.Params("chainID"), 10, 64)
}

// ListAccounts returns the user's accounts on every chain they've touched
// GET /api/v1/accounts
func (h *AccountHandler) ListAccounts(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	accounts, err := h.Registry.AccountsForUser(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list accounts: " + err.Error()})
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

// GetAccount resolves (creating the row if needed) the user's account on one chain.
// The address comes back before anything is deployed; deployment is lazy.
// GET /api/v1/accounts/:chainID
func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	chainID, err := parseChainID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chain id"})
	}

	account, err := h.Registry.GetOrCreate(c.Context(), userID, chainID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Account resolution failed: " + err.Error()})
	}
	return c.JSON(account)
}

// DeployAccount forces the on-chain deployment instead of waiting for the
// first funds-moving operation
// POST /api/v1/accounts/:chainID/deploy
func (h *AccountHandler) DeployAccount(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	chainID, err := parseChainID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chain id"})
	}

	account, err := h.Deployment.EnsureDeployed(c.Context(), userID, chainID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Deployment failed: " + err.Error()})
	}
	return c.JSON(account)
}
