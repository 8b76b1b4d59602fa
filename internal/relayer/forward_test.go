package relayer

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func testRequest() *ForwardRequest {
	return &ForwardRequest{
		From:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		To:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Value:    big.NewInt(0),
		Gas:      big.NewInt(ForwardRequestGasCeiling),
		Nonce:    big.NewInt(7),
		Deadline: big.NewInt(1900000000),
		Data:     []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestForwardRequestDigestDeterministic(t *testing.T) {
	forwarder := common.HexToAddress("0x4444444444444444444444444444444444444444")

	a, err := ForwardRequestDigest(8453, forwarder, testRequest())
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	b, err := ForwardRequestDigest(8453, forwarder, testRequest())
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("same request hashed to different digests")
	}
	if len(a) != 32 {
		t.Fatalf("digest should be 32 bytes, got %d", len(a))
	}
}

func TestForwardRequestDigestBindsChainAndNonce(t *testing.T) {
	forwarder := common.HexToAddress("0x4444444444444444444444444444444444444444")

	base, err := ForwardRequestDigest(8453, forwarder, testRequest())
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}

	otherChain, err := ForwardRequestDigest(10, forwarder, testRequest())
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if string(base) == string(otherChain) {
		t.Fatal("chain id not bound into the digest")
	}

	bumped := testRequest()
	bumped.Nonce = big.NewInt(8)
	otherNonce, err := ForwardRequestDigest(8453, forwarder, bumped)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	if string(base) == string(otherNonce) {
		t.Fatal("nonce not bound into the digest")
	}
}

func TestSignForwardRequestRecoverable(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	forwarder := common.HexToAddress("0x4444444444444444444444444444444444444444")
	req := testRequest()

	sig, err := SignForwardRequest(key, 8453, forwarder, req)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature should be 65 bytes, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("recovery byte should be 27 or 28, got %d", sig[64])
	}

	// Recover with the raw recovery id, the way the forwarder's ecrecover does
	// minus the 27 shift.
	digest, err := ForwardRequestDigest(8453, forwarder, req)
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	raw := make([]byte, 65)
	copy(raw, sig)
	raw[64] -= 27

	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("recovered signer does not match the signing key")
	}
}

func TestNewForwardRequestDefaults(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	req := NewForwardRequest(from, to, nil, 42, nil)

	if req.Value.Sign() != 0 {
		t.Fatalf("nil value should default to zero, got %s", req.Value)
	}
	if req.Gas.Int64() != ForwardRequestGasCeiling {
		t.Fatalf("unexpected gas ceiling %s", req.Gas)
	}
	if req.Nonce.Uint64() != 42 {
		t.Fatalf("unexpected nonce %s", req.Nonce)
	}

	min := time.Now().Add(ForwardRequestDeadline - time.Minute).Unix()
	max := time.Now().Add(ForwardRequestDeadline + time.Minute).Unix()
	if req.Deadline.Int64() < min || req.Deadline.Int64() > max {
		t.Fatalf("deadline %d outside the expected window", req.Deadline.Int64())
	}
}

func TestPackForwarderExecute(t *testing.T) {
	sig := make([]byte, 65)
	sig[64] = 27

	data, err := PackForwarderExecute(testRequest(), sig)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	want := crypto.Keccak256([]byte("execute((address,address,uint256,uint256,uint256,uint48,bytes),bytes)"))[:4]
	if string(data[:4]) != string(want) {
		t.Fatalf("unexpected selector %x, want %x", data[:4], want)
	}
}
