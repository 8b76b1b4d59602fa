/**
 * @description
 * Price feed reads against a Chainlink-style aggregator.
 * The settlement engine fetches a fresh rate for every attempt; nothing here
 * caches.
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

// EthUsdFeedDecimals is the scale of aggregator answers (price * 10^8).
const EthUsdFeedDecimals = 8

const aggregatorABI = `[
	{
		"inputs": [],
		"name": "latestRoundData",
		"outputs": [
			{"internalType": "uint80", "name": "roundId", "type": "uint80"},
			{"internalType": "int256", "name": "answer", "type": "int256"},
			{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
			{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
			{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

var feedABI = mustParseABI(aggregatorABI)

// EthUsdPrice reads the feed's latest answer, scaled by 10^8.
func EthUsdPrice(ctx context.Context, client *Client, feed common.Address) (*big.Int, error) {
	data, err := feedABI.Pack("latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("failed to pack latestRoundData call: %w", err)
	}

	result, err := client.Call(ctx, feed, data)
	if err != nil {
		return nil, fmt.Errorf("price feed call failed: %w", err)
	}

	out, err := feedABI.Unpack("latestRoundData", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack latestRoundData result: %w", err)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("short latestRoundData result")
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected latestRoundData answer type")
	}
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("price feed returned non-positive answer %s", answer)
	}
	return answer, nil
}
