package anchor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"civicproof/internal/report/fingerprint"
	"civicproof/internal/report/models"
	dErrors "civicproof/pkg/domain-errors"
)

// TxState is what the ledger currently says about a transaction.
type TxState string

const (
	TxConfirmed TxState = "confirmed"
	TxReverted  TxState = "reverted"
	// TxPending covers both mempool transactions and mined ones below confirmation depth.
	TxPending TxState = "pending"
	TxUnknown TxState = "unknown"
)

type TxStatus struct {
	State  TxState
	Proof  *models.AnchorProof
	Reason string
}

// TransactionStatus looks up txRef on the ledger. The watchdog uses it to settle reports
// whose confirmation wait ended without an answer.
func (c *Client) TransactionStatus(ctx context.Context, txRef string) (*TxStatus, error) {
	if len(common.FromHex(txRef)) != common.HashLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "transaction reference is not a 32-byte hash")
	}
	status, err := c.status(ctx, common.HexToHash(txRef))
	if err != nil {
		return nil, ledgerErr(err, "failed to read transaction status")
	}
	return status, nil
}

func (c *Client) status(ctx context.Context, hash common.Hash) (*TxStatus, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err = c.observe(err); err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		_, pending, err := c.backend.TransactionByHash(ctx, hash)
		if err = c.observe(err); err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return &TxStatus{State: TxUnknown, Reason: "transaction is not known to the ledger"}, nil
			}
			return nil, err
		}
		if pending {
			return &TxStatus{State: TxPending, Reason: "transaction is in the mempool"}, nil
		}
		return &TxStatus{State: TxPending, Reason: "transaction mined, receipt not yet available"}, nil
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return &TxStatus{State: TxReverted, Reason: fmt.Sprintf("transaction reverted in block %s", receipt.BlockNumber)}, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err = c.observe(err); err != nil {
		return nil, err
	}
	if depth := confirmationsAt(receipt.BlockNumber, head); depth < c.confirmations {
		return &TxStatus{State: TxPending, Reason: fmt.Sprintf("%d of %d confirmations", depth, c.confirmations)}, nil
	}
	return &TxStatus{
		State: TxConfirmed,
		Proof: &models.AnchorProof{
			TxRef:       hash.Hex(),
			BlockRef:    receipt.BlockHash.Hex(),
			BlockNumber: receipt.BlockNumber.Uint64(),
			ChainID:     c.chainID.Int64(),
			ConfirmedAt: c.now().UTC(),
		},
	}, nil
}

func confirmationsAt(block *big.Int, head uint64) uint64 {
	if block == nil || head < block.Uint64() {
		return 0
	}
	return head - block.Uint64() + 1
}

// Verification is the result of checking a report against its on-chain anchor.
type Verification struct {
	ReportID          string `json:"report_id"`
	Fingerprint       string `json:"fingerprint"`
	ContentMatches    bool   `json:"content_matches"`
	Anchored          bool   `json:"anchored"`
	TransactionFound  bool   `json:"transaction_found"`
	PayloadMatches    bool   `json:"payload_matches"`
	ReceiptSuccessful bool   `json:"receipt_successful"`
	BlockMatches      bool   `json:"block_matches"`
	Confirmations     uint64 `json:"confirmations"`
	Valid             bool   `json:"valid"`
	Reason            string `json:"reason,omitempty"`
	Recomputed        string `json:"recomputed_fingerprint"`
}

// Verify recomputes r's fingerprint from its content and checks it against the anchoring
// transaction recorded in r's proof.
func (c *Client) Verify(ctx context.Context, r *models.Report) (*Verification, error) {
	fp, err := fingerprint.OfReport(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint report")
	}
	v := &Verification{
		ReportID:       r.ID.String(),
		Fingerprint:    r.Fingerprint,
		Recomputed:     fp.Hex(),
		ContentMatches: fp.Hex() == r.Fingerprint,
		Anchored:       r.AnchorStatus == models.AnchorAnchored && r.Proof != nil,
	}
	if !v.ContentMatches {
		v.Reason = "report content does not match its stored fingerprint"
		return v, nil
	}
	if !v.Anchored {
		v.Reason = "report is not anchored"
		return v, nil
	}

	hash := common.HexToHash(r.Proof.TxRef)
	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err = c.observe(err); err != nil {
		if errors.Is(err, ethereum.NotFound) {
			v.Reason = "anchoring transaction not found on the ledger"
			return v, nil
		}
		return nil, ledgerErr(err, "failed to fetch anchoring transaction")
	}
	v.TransactionFound = true

	onChain, meta, err := DecodePayload(tx.Data())
	if err != nil {
		v.Reason = err.Error()
		return v, nil
	}
	v.PayloadMatches = onChain == fp && meta.ReportID == r.ID.String() &&
		meta.Category == r.Key.Category && meta.Location == r.Key.Location
	if !v.PayloadMatches {
		v.Reason = "on-chain payload does not match the report"
		return v, nil
	}

	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err = c.observe(err); err != nil {
		if errors.Is(err, ethereum.NotFound) {
			v.Reason = "anchoring transaction has no receipt"
			return v, nil
		}
		return nil, ledgerErr(err, "failed to fetch anchoring receipt")
	}
	v.ReceiptSuccessful = receipt.Status == types.ReceiptStatusSuccessful
	v.BlockMatches = receipt.BlockHash.Hex() == r.Proof.BlockRef
	head, err := c.backend.BlockNumber(ctx)
	if err = c.observe(err); err != nil {
		return nil, ledgerErr(err, "failed to read block height")
	}
	v.Confirmations = confirmationsAt(receipt.BlockNumber, head)

	switch {
	case !v.ReceiptSuccessful:
		v.Reason = "anchoring transaction reverted"
	case !v.BlockMatches:
		v.Reason = "anchoring transaction is in a different block than recorded (reorg)"
	default:
		v.Valid = true
	}
	return v, nil
}

// WalletState is the read-only wallet diagnostic.
type WalletState struct {
	Address         string   `json:"address"`
	Balance         *big.Int `json:"-"`
	BalanceWei      string   `json:"balance_wei"`
	ChainID         int64    `json:"chain_id"`
	LowBalance      bool     `json:"low_balance"`
	FundingGuidance string   `json:"funding_guidance,omitempty"`
}

// WalletInfo reads the wallet's balance and chain. The diagnostics policy is enforced here
// as well as at the HTTP edge.
func (c *Client) WalletInfo(ctx context.Context) (*WalletState, error) {
	if err := c.diagnostics.Allow(ctx); err != nil {
		return nil, err
	}
	balance, err := c.backend.BalanceAt(ctx, c.wallet.Address(), nil)
	if err = c.observe(err); err != nil {
		return nil, ledgerErr(err, "failed to read wallet balance")
	}
	c.metrics.SetWalletBalance(balance)

	state := &WalletState{
		Address:    c.wallet.Address().Hex(),
		Balance:    balance,
		BalanceWei: balance.String(),
		ChainID:    c.chainID.Int64(),
	}
	if c.lowBalance != nil && balance.Cmp(c.lowBalance) < 0 {
		state.LowBalance = true
		state.FundingGuidance = fmt.Sprintf(
			"balance is below %s wei; send funds on chain %d to %s before anchoring",
			c.lowBalance, state.ChainID, state.Address,
		)
	}
	return state, nil
}

func ledgerErr(err error, msg string) error {
	if isNetworkError(err) {
		return dErrors.Wrap(err, dErrors.CodeNetworkUnreachable, "ledger unreachable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
