/**
 * @description
 * HTTP Handler for gas-sponsored meta-transactions.
 * Accepts a batch of raw calls, signs them as forward requests on the user's
 * behalf, and relays them through the bundler.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - github.com/ethereum/go-ethereum/common (address/calldata parsing)
 * - backend/internal/services
 */

package handlers

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2"
	"github.com/mejango/juicy-vision-sub002/internal/api/middleware"
	"github.com/mejango/juicy-vision-sub002/internal/services"
)

type TransactionHandler struct {
	MetaTx *services.MetaTransactionService
}

func NewTransactionHandler(metaTx *services.MetaTransactionService) *TransactionHandler {
	return &TransactionHandler{MetaTx: metaTx}
}

type rawTransactionRequest struct {
	ChainID uint64 `json:"chain_id"`
	Target  string `json:"target"`
	Data    string `json:"data"`  // 0x-prefixed calldata
	Value   string `json:"value"` // wei, decimal string; empty means zero
	Wrap    bool   `json:"wrap_for_account"`
}

type submitTransactionsRequest struct {
	Transactions []rawTransactionRequest `json:"transactions"`
}

// SubmitTransactions relays a batch of user calls gas-free
// POST /api/v1/transactions
func (h *TransactionHandler) SubmitTransactions(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	var req submitTransactionsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}
	if len(req.Transactions) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "transactions is required"})
	}

	txs := make([]services.RawTransaction, 0, len(req.Transactions))
	for _, t := range req.Transactions {
		if !common.IsHexAddress(t.Target) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid target address: " + t.Target})
		}

		var data []byte
		if t.Data != "" {
			data, err = hexutil.Decode(t.Data)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid calldata: " + err.Error()})
			}
		}

		value := new(big.Int)
		if t.Value != "" {
			if _, ok := value.SetString(t.Value, 10); !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid value: " + t.Value})
			}
		}

		txs = append(txs, services.RawTransaction{
			ChainID:        t.ChainID,
			Target:         common.HexToAddress(t.Target),
			Data:           data,
			Value:          value,
			WrapForAccount: t.Wrap,
		})
	}

	bundle, err := h.MetaTx.BuildAndSubmit(c.Context(), userID, txs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Submission failed: " + err.Error()})
	}
	return c.JSON(bundle)
}
