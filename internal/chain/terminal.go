/**
 * @description
 * Calldata packing for the protocol payment terminal.
 * Settlements deposit native currency into a project's terminal with pay(),
 * crediting the beneficiary with project tokens.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/accounts/abi
 * - github.com/ethereum/go-ethereum/common
 */

package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const paymentTerminalABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "projectId", "type": "uint256"},
			{"internalType": "address", "name": "beneficiary", "type": "address"}
		],
		"name": "pay",
		"outputs": [{"internalType": "uint256", "name": "tokensReceived", "type": "uint256"}],
		"stateMutability": "payable",
		"type": "function"
	}
]`

var terminalABI = mustParseABI(paymentTerminalABI)

// PackTerminalPay builds calldata for a payable terminal deposit. The value
// is carried on the transaction itself.
func PackTerminalPay(projectID uint64, beneficiary common.Address) ([]byte, error) {
	data, err := terminalABI.Pack("pay", new(big.Int).SetUint64(projectID), beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to pack terminal pay call: %w", err)
	}
	return data, nil
}
