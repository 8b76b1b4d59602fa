package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"github.com/mejango/juicy-vision-sub002/internal/keystore"
)

func reservesConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	keyHex := hexutil.Encode(crypto.FromECDSA(key))
	return &config.Config{
		Signing: config.SigningConfig{ReservesPrivateKey: keyHex},
	}, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestSigningKeyForPrefersUserKey(t *testing.T) {
	userKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	userKeyHex := hexutil.Encode(crypto.FromECDSA(userKey))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"private_key": userKeyHex})
	}))
	defer srv.Close()

	cfg, reservesAddr := reservesConfig(t)
	ks := &keystore.Client{BaseURL: srv.URL, HTTPClient: &http.Client{}}

	signer, err := NewSystemSigner(cfg, ks)
	if err != nil {
		t.Fatalf("signer init failed: %v", err)
	}

	got, err := signer.SigningKeyFor(context.Background(), "user_with_key")
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	gotAddr := crypto.PubkeyToAddress(got.PublicKey).Hex()
	if gotAddr != crypto.PubkeyToAddress(userKey.PublicKey).Hex() {
		t.Fatalf("expected the user's stored key, got %s", gotAddr)
	}
	if gotAddr == reservesAddr {
		t.Fatal("user key should take precedence over reserves")
	}
}

func TestSigningKeyForFallsBackToReserves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg, reservesAddr := reservesConfig(t)
	ks := &keystore.Client{BaseURL: srv.URL, HTTPClient: &http.Client{}}

	signer, err := NewSystemSigner(cfg, ks)
	if err != nil {
		t.Fatalf("signer init failed: %v", err)
	}

	got, err := signer.SigningKeyFor(context.Background(), "user_without_key")
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if crypto.PubkeyToAddress(got.PublicKey).Hex() != reservesAddr {
		t.Fatal("expected the reserves key fallback")
	}
	if signer.ReservesAddress().Hex() != reservesAddr {
		t.Fatal("ReservesAddress mismatch")
	}
}

func TestNewSystemSignerRequiresKey(t *testing.T) {
	cfg := &config.Config{}
	if _, err := NewSystemSigner(cfg, nil); err == nil {
		t.Fatal("expected error without a reserves key")
	}
}
