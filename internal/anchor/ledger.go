// Package anchor submits report fingerprints to an EVM ledger and verifies them later.
//
// The ledger connection and signing wallet are process-wide resources: main opens them
// once with Connect, hands the Ledger to NewClient, and closes it on shutdown.
package anchor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"civicproof/internal/platform/config"
)

// Backend is the part of an Ethereum JSON-RPC client the anchor client uses.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Wallet is the signing identity. The private key never leaves this type.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewWallet(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// LoadWallet parses a hex private key, with or without the 0x prefix.
func LoadWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("ledger private key is not configured")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse ledger private key: %w", err)
	}
	return NewWallet(key), nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

func (w *Wallet) sign(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
}

// Ledger bundles the RPC connection, the wallet and the chain the two were checked against.
type Ledger struct {
	Backend Backend
	Wallet  *Wallet
	ChainID *big.Int
}

// Connect dials the RPC endpoint, loads the wallet and reads the chain id. A non-zero
// ExpectedChainID must match, so a misconfigured endpoint cannot make the service sign for
// another network.
func Connect(ctx context.Context, cfg config.LedgerConfig) (*Ledger, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("ledger RPC URL is not configured")
	}
	wallet, err := LoadWallet(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if cfg.ExpectedChainID != 0 && chainID.Int64() != cfg.ExpectedChainID {
		client.Close()
		return nil, fmt.Errorf("ledger chain id %s does not match configured %d", chainID, cfg.ExpectedChainID)
	}
	return &Ledger{Backend: client, Wallet: wallet, ChainID: chainID}, nil
}

func (l *Ledger) Close() {
	if l != nil && l.Backend != nil {
		l.Backend.Close()
	}
}
