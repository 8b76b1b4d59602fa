/**
 * @description
 * Per-chain Ethereum client registry.
 * Wraps ethclient with the handful of operations the custody engine needs:
 * balance/code reads, read-only contract calls, and signed submission with
 * confirmation waiting.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum
 * - backend/internal/config
 * - backend/internal/logger
 *
 * @notes
 * - Chain ID -> RPC endpoint mapping is configuration, not logic. Asking for a
 *   chain outside the configured set is a configuration error.
 * - Backend is an interface so services can be exercised against fakes; the
 *   real implementation is *ethclient.Client.
 */

package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
)

// ErrUnsupportedChain is returned for chain IDs outside the configured set.
var ErrUnsupportedChain = errors.New("unsupported chain")

const (
	// confirmTimeout bounds how long a submission waits for its receipt.
	confirmTimeout = 2 * time.Minute

	// gasLimitHeadroomBps pads the gas estimate to survive small state drift
	// between estimation and inclusion.
	gasLimitHeadroomBps = 2000 // +20%
)

// Backend is the subset of ethclient the engine uses.
// *ethclient.Client satisfies it; tests substitute fakes.
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is one chain's RPC connection plus its numeric chain ID.
type Client struct {
	chainID *big.Int
	backend Backend
	closer  func()
}

// NewClient wraps an existing backend (used by tests).
func NewClient(chainID uint64, backend Backend) *Client {
	return &Client{chainID: new(big.Int).SetUint64(chainID), backend: backend}
}

// Dial connects to a chain's RPC endpoint.
func Dial(chainID uint64, rpcURL string) (*Client, error) {
	ec, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d RPC: %w", chainID, err)
	}
	return &Client{
		chainID: new(big.Int).SetUint64(chainID),
		backend: ec,
		closer:  ec.Close,
	}, nil
}

// ChainID returns the chain's numeric ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// HasCode reports whether any contract code exists at the address.
func (c *Client) HasCode(ctx context.Context, address common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to fetch code for %s: %w", address.Hex(), err)
	}
	return len(code) > 0, nil
}

// NativeBalance returns the native-asset balance in wei.
func (c *Client) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance for %s: %w", address.Hex(), err)
	}
	return balance, nil
}

// Call performs a read-only contract call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// SubmitAndWait signs a call with the given key, sends it, and waits for the
// receipt. A mined-but-reverted transaction is returned as an error alongside
// its receipt so callers can record the hash.
func (c *Client) SubmitAndWait(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce for %s: %w", from.Hex(), err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		// Estimation failure almost always means the call would revert.
		return nil, fmt.Errorf("gas estimation failed (call would revert?): %w", err)
	}
	gasLimit += gasLimit * gasLimitHeadroomBps / 10000

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	logger.Info("📤 chain %s: sent tx %s (to=%s nonce=%d)", c.chainID, signedTx.Hash().Hex(), to.Hex(), nonce)

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for tx %s: %w", signedTx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", signedTx.Hash().Hex())
	}
	return receipt, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Registry holds one client per supported chain.
type Registry struct {
	clients map[uint64]*Client
}

// NewRegistry dials every configured chain.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	clients := make(map[uint64]*Client, len(cfg.Chains.ChainIDs))
	for _, id := range cfg.Chains.ChainIDs {
		client, err := Dial(id, cfg.Chains.RPCURLs[id])
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, err
		}
		clients[id] = client
	}
	return &Registry{clients: clients}, nil
}

// NewRegistryFromClients wraps pre-built clients (used by tests).
func NewRegistryFromClients(clients map[uint64]*Client) *Registry {
	return &Registry{clients: clients}
}

// Get returns the client for a chain, or ErrUnsupportedChain.
func (r *Registry) Get(chainID uint64) (*Client, error) {
	client, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return client, nil
}

// ChainIDs lists the configured chains in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every chain connection.
func (r *Registry) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
