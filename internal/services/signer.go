/**
 * @description
 * Signing key resolution.
 * Every on-chain account is owned by the system signer; for sponsored
 * execution the user's own managed key is preferred when the key store has
 * one, for per-user accountability. The reserves key is the fallback.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto
 * - backend/internal/keystore
 *
 * @notes
 * - Keys are resolved per operation and handed back by value; nothing here
 *   caches secret material.
 */

package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/keystore"
)

type SystemSigner struct {
	reserves *ecdsa.PrivateKey
	keystore *keystore.Client
}

// NewSystemSigner parses the reserves key and wires the key store client.
func NewSystemSigner(cfg *config.Config, ks *keystore.Client) (*SystemSigner, error) {
	raw := strings.TrimPrefix(cfg.Signing.ReservesPrivateKey, "0x")
	if raw == "" {
		return nil, fmt.Errorf("%w: reserves key not configured", ErrNoSigningKey)
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid reserves private key: %w", err)
	}
	return &SystemSigner{reserves: key, keystore: ks}, nil
}

// ReservesKey returns the system/reserves signing key.
func (s *SystemSigner) ReservesKey() *ecdsa.PrivateKey {
	return s.reserves
}

// ReservesAddress returns the reserves key's address (the owner of every
// managed account).
func (s *SystemSigner) ReservesAddress() common.Address {
	return crypto.PubkeyToAddress(s.reserves.PublicKey)
}

// SigningKeyFor resolves the key to sign with for a user: their managed key
// when the store has one, otherwise the reserves key.
func (s *SystemSigner) SigningKeyFor(ctx context.Context, userID string) (*ecdsa.PrivateKey, error) {
	if s.keystore != nil {
		key, err := s.keystore.GetSigningKey(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch signing key for user %s: %w", userID, err)
		}
		if key != nil {
			return key, nil
		}
	}
	if s.reserves == nil {
		return nil, ErrNoSigningKey
	}
	return s.reserves, nil
}
