/**
 * @description
 * EIP-712 forward requests for gas-sponsored execution.
 * Builds the typed structure the trusted forwarder verifies, signs it, and
 * encodes forwarder.execute(request, signature) calldata for the bundler.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/signer/core/apitypes: typed-data hashing
 * - github.com/ethereum/go-ethereum/crypto
 * - github.com/ethereum/go-ethereum/accounts/abi
 *
 * @notes
 * - Nonces within one bundle are allocated by the caller: the forwarder nonce
 *   is read once per chain and offset by position, so same-chain requests never
 *   collide without a second RPC round trip.
 * - Deadline window is fixed at 48 hours; gas is a conservative ceiling rather
 *   than an estimate, since the forwarder refunds unused gas to the relayer.
 */

package relayer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
)

const (
	// ForwardRequestDeadline is how long a signed request stays submittable.
	ForwardRequestDeadline = 48 * time.Hour

	// ForwardRequestGasCeiling is the per-request gas allowance. Generous on
	// purpose: the forwarder refunds what execution doesn't use.
	ForwardRequestGasCeiling = 1_000_000

	forwarderDomainName    = "JuicyForwarder"
	forwarderDomainVersion = "1"
)

// trustedForwarderABI covers the signer nonce view and the relayed execute call.
const trustedForwarderABI = `[
	{
		"inputs": [{"internalType": "address", "name": "from", "type": "address"}],
		"name": "getNonce",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "from", "type": "address"},
					{"internalType": "address", "name": "to", "type": "address"},
					{"internalType": "uint256", "name": "value", "type": "uint256"},
					{"internalType": "uint256", "name": "gas", "type": "uint256"},
					{"internalType": "uint256", "name": "nonce", "type": "uint256"},
					{"internalType": "uint48", "name": "deadline", "type": "uint48"},
					{"internalType": "bytes", "name": "data", "type": "bytes"}
				],
				"internalType": "struct Forwarder.ForwardRequest",
				"name": "request",
				"type": "tuple"
			},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "execute",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "payable",
		"type": "function"
	}
]`

var forwarderABI = func() abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader([]byte(trustedForwarderABI)))
	if err != nil {
		panic(fmt.Sprintf("invalid forwarder ABI constant: %v", err))
	}
	return parsed
}()

// ForwardRequest mirrors the forwarder's ForwardRequest struct.
// Field names must match the ABI tuple components for packing.
type ForwardRequest struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      *big.Int
	Nonce    *big.Int
	Deadline *big.Int // uint48
	Data     []byte
}

// forwardRequestTypes is the EIP-712 type set the forwarder verifies against.
func forwardRequestTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"ForwardRequest": []apitypes.Type{
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "gas", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint48"},
			{Name: "data", Type: "bytes"},
		},
	}
}

// ForwardRequestDigest computes the EIP-712 digest the signer commits to.
func ForwardRequestDigest(chainID uint64, forwarder common.Address, req *ForwardRequest) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       forwardRequestTypes(),
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              forwarderDomainName,
			Version:           forwarderDomainVersion,
			ChainId:           math.NewHexOrDecimal256(int64(chainID)),
			VerifyingContract: forwarder.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":     req.From.Hex(),
			"to":       req.To.Hex(),
			"value":    (*math.HexOrDecimal256)(req.Value),
			"gas":      (*math.HexOrDecimal256)(req.Gas),
			"nonce":    (*math.HexOrDecimal256)(req.Nonce),
			"deadline": (*math.HexOrDecimal256)(req.Deadline),
			"data":     hexutil.Encode(req.Data),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash forward request: %w", err)
	}
	return digest, nil
}

// SignForwardRequest signs the request's EIP-712 digest with the given key.
// The recovery byte is shifted to the 27/28 convention contracts expect.
func SignForwardRequest(key *ecdsa.PrivateKey, chainID uint64, forwarder common.Address, req *ForwardRequest) ([]byte, error) {
	digest, err := ForwardRequestDigest(chainID, forwarder, req)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign forward request: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// NewForwardRequest builds a request with the fixed deadline window and gas
// ceiling applied.
func NewForwardRequest(from, to common.Address, value *big.Int, nonce uint64, data []byte) *ForwardRequest {
	if value == nil {
		value = big.NewInt(0)
	}
	deadline := time.Now().Add(ForwardRequestDeadline).Unix()
	return &ForwardRequest{
		From:     from,
		To:       to,
		Value:    value,
		Gas:      big.NewInt(ForwardRequestGasCeiling),
		Nonce:    new(big.Int).SetUint64(nonce),
		Deadline: big.NewInt(deadline),
		Data:     data,
	}
}

// ForwarderNonce reads the forwarder's current nonce for a signer. Read once
// per chain per bundle; same-chain requests offset from it locally.
func ForwarderNonce(ctx context.Context, client *chain.Client, forwarder, from common.Address) (uint64, error) {
	data, err := forwarderABI.Pack("getNonce", from)
	if err != nil {
		return 0, fmt.Errorf("failed to pack getNonce call: %w", err)
	}

	result, err := client.Call(ctx, forwarder, data)
	if err != nil {
		return 0, fmt.Errorf("forwarder getNonce call failed: %w", err)
	}

	out, err := forwarderABI.Unpack("getNonce", result)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack getNonce result: %w", err)
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected getNonce result type")
	}
	return nonce.Uint64(), nil
}

// PackForwarderExecute encodes forwarder.execute(request, signature).
func PackForwarderExecute(req *ForwardRequest, signature []byte) ([]byte, error) {
	encoded, err := forwarderABI.Pack("execute", *req, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack forwarder execute call: %w", err)
	}
	return encoded, nil
}
