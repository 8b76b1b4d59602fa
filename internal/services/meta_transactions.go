/**
 * @description
 * Meta-Transaction service.
 * Turns raw transactions into signed EIP-712 forward requests and submits them
 * to the external bundler as one batch, so a relayer pays gas while the logical
 * sender stays the account owner.
 *
 * @dependencies
 * - backend/internal/relayer: typed-data signing + bundler client
 * - backend/internal/chain: forwarder nonce reads, account.execute wrapping
 * - backend/internal/services (SystemSigner, SubmissionLock, AccountRegistry)
 *
 * @notes
 * - The forwarder nonce is read once per chain, then offset by position within
 *   that chain's transaction list. The per-chain Redis lock is held across the
 *   nonce read AND the bundle submission so no other instance interleaves.
 * - Wrapped transactions route through account.execute(target, value, data) so
 *   the forwarder's target is the smart account and _msgSender() inside it is
 *   the signer.
 */

package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/logger"
	"github.com/mejango/juicy-vision-sub002/internal/relayer"
)

// RawTransaction is one call a caller wants relayed.
type RawTransaction struct {
	ChainID uint64
	Target  common.Address
	Data    []byte
	Value   *big.Int

	// WrapForAccount routes the call through the user's smart account so the
	// account is the on-chain caller of Target.
	WrapForAccount bool
}

type MetaTransactionService struct {
	Registry *AccountRegistry
	Chains   *chain.Registry
	Signer   *SystemSigner
	Bundler  *relayer.Client
	Lock     *SubmissionLock
	Cfg      *config.Config
}

func NewMetaTransactionService(registry *AccountRegistry, chains *chain.Registry, signer *SystemSigner, bundler *relayer.Client, lock *SubmissionLock, cfg *config.Config) *MetaTransactionService {
	return &MetaTransactionService{
		Registry: registry,
		Chains:   chains,
		Signer:   signer,
		Bundler:  bundler,
		Lock:     lock,
		Cfg:      cfg,
	}
}

// BuildAndSubmit signs every transaction as a forward request and submits the
// whole batch to the bundler. Returns the bundler's bundle identifier.
func (s *MetaTransactionService) BuildAndSubmit(ctx context.Context, userID string, txs []RawTransaction) (*relayer.BundleResponse, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("no transactions to submit")
	}

	// Prefer the user's own managed key (per-user accountability); the
	// reserves key is the fallback, and no key at all is fatal.
	key, err := s.Signer.SigningKeyFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	forwarder := common.HexToAddress(s.Cfg.Chains.ForwarderAddress)

	// Group by chain, preserving submission order within each chain.
	chainOrder := make([]uint64, 0)
	perChain := make(map[uint64][]RawTransaction)
	for _, tx := range txs {
		if _, seen := perChain[tx.ChainID]; !seen {
			chainOrder = append(chainOrder, tx.ChainID)
		}
		perChain[tx.ChainID] = append(perChain[tx.ChainID], tx)
	}

	var bundle []relayer.BundleTransaction
	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	for _, chainID := range chainOrder {
		client, err := s.Chains.Get(chainID)
		if err != nil {
			return nil, err
		}

		// Single-submitter invariant: hold the chain's lock across the nonce
		// read and the submission below.
		release, err := s.Lock.Acquire(ctx, chainID)
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)

		baseNonce, err := relayer.ForwarderNonce(ctx, client, forwarder, from)
		if err != nil {
			return nil, err
		}

		for i, tx := range perChain[chainID] {
			to, value, data := tx.Target, tx.Value, tx.Data
			if tx.WrapForAccount {
				account, err := s.Registry.GetOrCreate(ctx, userID, chainID)
				if err != nil {
					return nil, err
				}
				data, err = chain.PackAccountExecute(tx.Target, tx.Value, tx.Data)
				if err != nil {
					return nil, err
				}
				to = common.HexToAddress(account.Address)
				value = big.NewInt(0)
			}

			req := relayer.NewForwardRequest(from, to, value, baseNonce+uint64(i), data)
			sig, err := relayer.SignForwardRequest(key, chainID, forwarder, req)
			if err != nil {
				return nil, err
			}

			calldata, err := relayer.PackForwarderExecute(req, sig)
			if err != nil {
				return nil, err
			}

			bundle = append(bundle, relayer.BundleTransaction{
				ChainID: chainID,
				Target:  forwarder.Hex(),
				Data:    hexutil.Encode(calldata),
				Value:   "0",
			})
		}
	}

	resp, err := s.Bundler.SubmitBundle(ctx, bundle)
	if err != nil {
		return nil, err
	}

	logger.Info("📦 Submitted bundle %s (%d txs across %d chains) for user %s", resp.BundleID, len(bundle), len(chainOrder), userID)
	return resp, nil
}
