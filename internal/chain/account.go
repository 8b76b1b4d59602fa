/**
 * @description
 * ABI encoding for the smart-account factory and the account contract itself,
 * plus deterministic (CREATE2) address derivation.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/accounts/abi
 * - github.com/ethereum/go-ethereum/common
 * - github.com/ethereum/go-ethereum/crypto
 *
 * @notes
 * - The salt is derived from the user ID under a fixed namespace, and the
 *   factory/implementation/owner are fixed per deployment, so a user's account
 *   address is identical on every chain and computable before deployment.
 */

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// accountFactoryABI covers the factory's counterfactual-address view and the
// deployment entrypoint.
const accountFactoryABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "bytes32", "name": "salt", "type": "bytes32"}
		],
		"name": "getAddress",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "bytes32", "name": "salt", "type": "bytes32"}
		],
		"name": "createAccount",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// smartAccountABI covers the owner-gated execute capability and ownership handoff.
const smartAccountABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "target", "type": "address"},
			{"internalType": "uint256", "name": "value", "type": "uint256"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "execute",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "newOwner", "type": "address"}],
		"name": "transferOwnership",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "owner",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	factoryABI = mustParseABI(accountFactoryABI)
	accountABI = mustParseABI(smartAccountABI)
)

// mustParseABI parses a compile-time ABI constant. A failure here is a
// programming error, not a runtime condition.
func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader([]byte(def)))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI constant: %v", err))
	}
	return parsed
}

// DeriveSalt computes the deterministic CREATE2 salt for a user.
// salt = keccak256(namespace || ":" || userID)
func DeriveSalt(namespace, userID string) common.Hash {
	return crypto.Keccak256Hash([]byte(namespace + ":" + userID))
}

// FactoryGetAddress asks the on-chain factory for the counterfactual account
// address of (owner, salt).
func FactoryGetAddress(ctx context.Context, client *Client, factory, owner common.Address, salt common.Hash) (common.Address, error) {
	data, err := factoryABI.Pack("getAddress", owner, salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getAddress call: %w", err)
	}

	result, err := client.Call(ctx, factory, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory getAddress call failed: %w", err)
	}

	out, err := factoryABI.Unpack("getAddress", result)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getAddress result: %w", err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("empty getAddress result")
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getAddress result type")
	}
	return addr, nil
}

// DeriveAccountAddress computes the CREATE2 address locally:
// keccak256(0xff || factory || salt || initCodeHash)[12:].
// Used as a fallback when the factory view is unreachable; must agree with
// what the factory returns for the same inputs.
func DeriveAccountAddress(factory common.Address, salt common.Hash, initCodeHash string) (common.Address, error) {
	hashBytes, err := hex.DecodeString(strings.TrimPrefix(initCodeHash, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode init code hash: %w", err)
	}
	if len(hashBytes) != 32 {
		return common.Address{}, fmt.Errorf("init code hash must be 32 bytes, got %d", len(hashBytes))
	}

	var buf []byte
	buf = append(buf, 0xff)
	buf = append(buf, factory.Bytes()...)
	buf = append(buf, salt.Bytes()...)
	buf = append(buf, hashBytes...)

	addressBytes := crypto.Keccak256(buf)[12:]
	return common.BytesToAddress(addressBytes), nil
}

// PackCreateAccount encodes factory.createAccount(owner, salt).
func PackCreateAccount(owner common.Address, salt common.Hash) ([]byte, error) {
	data, err := factoryABI.Pack("createAccount", owner, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount call: %w", err)
	}
	return data, nil
}

// PackAccountExecute encodes account.execute(target, value, data).
func PackAccountExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	encoded, err := accountABI.Pack("execute", target, value, data)
	if err != nil {
		return nil, fmt.Errorf("failed to pack account execute call: %w", err)
	}
	return encoded, nil
}

// PackTransferOwnership encodes account.transferOwnership(newOwner).
func PackTransferOwnership(newOwner common.Address) ([]byte, error) {
	data, err := accountABI.Pack("transferOwnership", newOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transferOwnership call: %w", err)
	}
	return data, nil
}

// AccountOwner reads account.owner() on-chain.
func AccountOwner(ctx context.Context, client *Client, account common.Address) (common.Address, error) {
	data, err := accountABI.Pack("owner")
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack owner call: %w", err)
	}

	result, err := client.Call(ctx, account, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("owner call failed: %w", err)
	}

	out, err := accountABI.Unpack("owner", result)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack owner result: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected owner result type")
	}
	return addr, nil
}
