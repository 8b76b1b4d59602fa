package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mejango/juicy-vision-sub002/internal/chain"
	"github.com/mejango/juicy-vision-sub002/internal/config"
	"gorm.io/gorm"
)

// Well-known throwaway key (hardhat account #0), never used outside tests.
const testReservesKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testFactoryAddress = "0x00000000000000000000000000000000000Fac10"

// openTestDB opens an isolated in-memory database. The schema is created
// directly because the model tags carry Postgres column defaults.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	ddl := []string{
		`CREATE TABLE smart_accounts (
			id text PRIMARY KEY,
			user_id text NOT NULL,
			chain_id integer NOT NULL,
			address text NOT NULL,
			salt text NOT NULL,
			deployed numeric NOT NULL DEFAULT false,
			custody_status text NOT NULL DEFAULT 'managed',
			owner_address text,
			created_at datetime,
			updated_at datetime,
			UNIQUE (user_id, chain_id),
			UNIQUE (chain_id, address)
		)`,
		`CREATE TABLE transfers (
			id text PRIMARY KEY,
			smart_account_id text NOT NULL,
			token_address text,
			amount text NOT NULL,
			to_address text NOT NULL,
			status text NOT NULL DEFAULT 'pending',
			transfer_type text NOT NULL,
			available_at datetime,
			tx_hash text,
			error text,
			created_at datetime,
			updated_at datetime
		)`,
		`CREATE TABLE export_requests (
			id text PRIMARY KEY,
			user_id text NOT NULL,
			new_owner_address text NOT NULL,
			chain_ids text,
			chain_status text,
			status text NOT NULL DEFAULT 'pending',
			blocked_by_pending_ops numeric NOT NULL DEFAULT false,
			pending_ops_details text,
			export_snapshot text,
			user_confirmed_at datetime,
			retry_count integer NOT NULL DEFAULT 0,
			created_at datetime,
			updated_at datetime
		)`,
		`CREATE TABLE pending_fiat_payments (
			id text PRIMARY KEY,
			user_id text NOT NULL,
			amount_usd real NOT NULL,
			project_id integer NOT NULL,
			chain_id integer NOT NULL,
			beneficiary_address text NOT NULL,
			status text NOT NULL DEFAULT 'pending_settlement',
			settles_at datetime NOT NULL,
			risk_score integer NOT NULL,
			settlement_delay_days integer NOT NULL,
			retry_count integer NOT NULL DEFAULT 0,
			last_error text,
			settlement_rate_eth_usd real,
			settlement_tx_hash text,
			tokens_received text,
			created_at datetime,
			updated_at datetime
		)`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// stubBackend satisfies chain.Backend. Contract reads are routed by target
// address; submissions are recorded and can be forced to fail.
type stubBackend struct {
	mu      sync.Mutex
	balance *big.Int
	results map[common.Address][]byte

	estimateErr error
	sent        []*types.Transaction
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		balance: big.NewInt(1_000_000_000_000_000_000),
		results: make(map[common.Address][]byte),
	}
}

// returnAddress makes calls against `to` yield an ABI-encoded address.
func (f *stubBackend) returnAddress(to, result common.Address) {
	f.results[to] = common.LeftPadBytes(result.Bytes(), 32)
}

func (f *stubBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *stubBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *stubBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *stubBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if call.To != nil {
		if result, ok := f.results[*call.To]; ok {
			return result, nil
		}
	}
	return nil, fmt.Errorf("no canned result for call")
}

func (f *stubBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *stubBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *stubBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 50_000, nil
}

func (f *stubBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *stubBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func testConfig(chainIDs []uint64) *config.Config {
	return &config.Config{
		Chains: config.ChainsConfig{
			ChainIDs:              chainIDs,
			AccountFactoryAddress: testFactoryAddress,
			TerminalAddress:       "0x0000000000000000000000000000000000000111",
			EthUsdFeedAddress:     "0x0000000000000000000000000000000000000222",
		},
		Signing: config.SigningConfig{
			ReservesPrivateKey: testReservesKey,
			SaltNamespace:      "juicy.account.v1",
		},
	}
}

// exportRig wires an ExportService against stub chains and an in-memory DB.
type exportRig struct {
	db       *gorm.DB
	backends map[uint64]*stubBackend
	exports  *ExportService
}

func newExportRig(t *testing.T, chainIDs []uint64) *exportRig {
	t.Helper()

	db := openTestDB(t)
	cfg := testConfig(chainIDs)

	signer, err := NewSystemSigner(cfg, nil)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	factory := common.HexToAddress(cfg.Chains.AccountFactoryAddress)
	account := common.HexToAddress("0x4444444444444444444444444444444444444444")

	backends := make(map[uint64]*stubBackend, len(chainIDs))
	clients := make(map[uint64]*chain.Client, len(chainIDs))
	for _, id := range chainIDs {
		backend := newStubBackend()
		backend.returnAddress(factory, account)
		backends[id] = backend
		clients[id] = chain.NewClient(id, backend)
	}
	chains := chain.NewRegistryFromClients(clients)

	registry := NewAccountRegistry(db, chains, signer, cfg)
	deployment := NewDeploymentManager(db, chains, registry, signer, cfg)

	return &exportRig{
		db:       db,
		backends: backends,
		exports:  NewExportService(db, chains, registry, deployment, signer),
	}
}
