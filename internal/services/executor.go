/**
 * @description
 * Transaction Executor service.
 * Executes arbitrary calls through a user's deployed smart account, with the
 * system paying gas. Self-custody accounts are refused: their owner signs for
 * themselves.
 *
 * @dependencies
 * - backend/internal/chain
 * - backend/internal/services (DeploymentManager, SystemSigner)
 *
 * @notes
 * - Balance is re-checked right before execution when value moves; the check
 *   at request time can be stale.
 * - No side effects beyond chain state: callers persist their own records
 *   (Transfer rows etc.) from the returned receipt.
 */

package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/models"
)

type Executor struct {
	Chains     *chain.Registry
	Deployment *DeploymentManager
	Signer     *SystemSigner
}

func NewExecutor(chains *chain.Registry, deployment *DeploymentManager, signer *SystemSigner) *Executor {
	return &Executor{
		Chains:     chains,
		Deployment: deployment,
		Signer:     signer,
	}
}

// Execute performs account.execute(target, value, data) through the user's
// smart account and waits for confirmation.
func (s *Executor) Execute(ctx context.Context, userID string, chainID uint64, target common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	account, err := s.Deployment.Registry.GetOrCreate(ctx, userID, chainID)
	if err != nil {
		return nil, err
	}
	if account.CustodyStatus != models.CustodyManaged {
		return nil, fmt.Errorf("%w: account %s is %s", ErrAccountNotManaged, account.Address, account.CustodyStatus)
	}

	account, err = s.Deployment.EnsureDeployed(ctx, userID, chainID)
	if err != nil {
		return nil, err
	}

	client, err := s.Chains.Get(chainID)
	if err != nil {
		return nil, err
	}

	accountAddr := common.HexToAddress(account.Address)

	if value != nil && value.Sign() > 0 {
		balance, err := client.NativeBalance(ctx, accountAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to verify balance: %w", err)
		}
		if balance.Cmp(value) < 0 {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, value)
		}
	}

	calldata, err := chain.PackAccountExecute(target, value, data)
	if err != nil {
		return nil, err
	}

	receipt, err := client.SubmitAndWait(ctx, s.Signer.ReservesKey(), accountAddr, nil, calldata)
	if err != nil {
		return nil, fmt.Errorf("account execution failed on chain %d: %w", chainID, err)
	}
	return receipt, nil
}
