/**
 * @description
 * Minimal ERC-20 helpers: balance reads and transfer call encoding.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/accounts/abi
 * - github.com/ethereum/go-ethereum/common
 */

package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20 ABI for balanceOf and transfer
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

var tokenABI = mustParseABI(erc20ABI)

// ERC20Balance returns the token balance of an address.
func ERC20Balance(ctx context.Context, client *Client, token, owner common.Address) (*big.Int, error) {
	data, err := tokenABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := client.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	out, err := tokenABI.Unpack("balanceOf", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balance result: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no results returned from balanceOf call")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode balance as *big.Int")
	}
	return balance, nil
}

// PackERC20Transfer encodes token.transfer(to, amount).
func PackERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := tokenABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}
	return data, nil
}
