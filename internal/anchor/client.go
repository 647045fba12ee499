package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"civicproof/internal/access"
	"civicproof/internal/anchor/lock"
	"civicproof/internal/anchor/metrics"
	"civicproof/internal/platform/config"
	"civicproof/internal/report/fingerprint"
	"civicproof/internal/report/models"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/circuit"
)

const (
	defaultPollInterval = 2 * time.Second
	gasHeadroomPercent  = 20
)

// SubmitHook is called with the hash of a signed transaction before it is broadcast. An
// error aborts the attempt without broadcasting.
type SubmitHook func(ctx context.Context, txRef string) error

// Client anchors report fingerprints. Submissions from one wallet are serialised by the
// configured Locker; the lock is held from nonce selection until the receipt is settled.
type Client struct {
	backend  Backend
	wallet   *Wallet
	chainID  *big.Int
	to       common.Address
	gasLimit uint64

	confirmTimeout time.Duration
	confirmations  uint64
	submitRetries  int
	retryBackoff   time.Duration
	pollInterval   time.Duration
	lowBalance     *big.Int

	locker      lock.Locker
	breaker     *circuit.Breaker
	diagnostics access.DiagnosticsPolicy
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Client)

// WithAnchorAddress sets the transaction recipient. The wallet sends to itself by default.
func WithAnchorAddress(addr common.Address) Option {
	return func(c *Client) {
		c.to = addr
	}
}

// WithGasLimit fixes the gas limit. Zero means estimate per transaction.
func WithGasLimit(limit uint64) Option {
	return func(c *Client) {
		c.gasLimit = limit
	}
}

// WithPolicy applies the anchoring policy: retries, backoff, confirmation depth and timeout.
func WithPolicy(p config.AnchoringPolicy) Option {
	return func(c *Client) {
		c.submitRetries = max(p.SubmitRetries, 1)
		c.retryBackoff = p.RetryBackoff
		c.confirmTimeout = p.ConfirmTimeout
		c.confirmations = max(p.Confirmations, 1)
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLowBalance sets the wallet balance below which diagnostics report funding guidance.
func WithLowBalance(wei *big.Int) Option {
	return func(c *Client) {
		c.lowBalance = wei
	}
}

func WithLocker(l lock.Locker) Option {
	return func(c *Client) {
		c.locker = l
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithDiagnosticsPolicy(p access.DiagnosticsPolicy) Option {
	return func(c *Client) {
		c.diagnostics = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(ledger *Ledger, opts ...Option) *Client {
	policy := config.DefaultPolicy().Anchoring
	c := &Client{
		backend:        ledger.Backend,
		wallet:         ledger.Wallet,
		chainID:        ledger.ChainID,
		to:             ledger.Wallet.Address(),
		confirmTimeout: policy.ConfirmTimeout,
		confirmations:  policy.Confirmations,
		submitRetries:  policy.SubmitRetries,
		retryBackoff:   policy.RetryBackoff,
		pollInterval:   defaultPollInterval,
		lowBalance:     big.NewInt(0),
		locker:         lock.NewLocal(),
		breaker:        circuit.New("ledger-rpc"),
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address is the signing wallet address.
func (c *Client) Address() common.Address {
	return c.wallet.Address()
}

// Preflight checks that the ledger is reachable and the wallet can pay for one anchor
// transaction. It runs before a report is claimed so a report on an empty wallet stays
// unanchored. A nil Failure means an attempt may proceed.
func (c *Client) Preflight(ctx context.Context) *Failure {
	if !c.breaker.Allow() {
		return &Failure{Kind: models.FailureNetworkUnreachable, Reason: "ledger rpc circuit is open"}
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err = c.observe(err); err != nil {
		return c.rpcFailure(err, "suggest gas price")
	}
	balance, err := c.backend.BalanceAt(ctx, c.wallet.Address(), nil)
	if err = c.observe(err); err != nil {
		return c.rpcFailure(err, "read wallet balance")
	}
	c.metrics.SetWalletBalance(balance)

	gas := c.gasLimit
	if gas == 0 {
		gas = 21000
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
	if balance.Cmp(cost) < 0 {
		return &Failure{
			Kind:   models.FailureInsufficientFunds,
			Reason: fmt.Sprintf("wallet %s holds %s wei, an anchor needs about %s wei", c.wallet.Address().Hex(), balance, cost),
		}
	}
	return nil
}

func (c *Client) rpcFailure(err error, op string) *Failure {
	return &Failure{Kind: models.FailureNetworkUnreachable, Reason: op + ": " + err.Error()}
}

// observe feeds an RPC result into the circuit breaker. Only transport errors count as
// failures; a node answering with an error is healthy.
func (c *Client) observe(err error) error {
	switch {
	case err == nil:
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.metrics.SetCircuitOpen(false)
			c.logger.Info("ledger rpc circuit closed")
		}
	case isNetworkError(err):
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.metrics.SetCircuitOpen(true)
			c.logger.Warn("ledger rpc circuit opened", "error", err)
		}
	}
	return err
}

// Anchor submits r's fingerprint in a single signed transaction and waits for it to be
// confirmed. onSigned runs once, before the first broadcast, so the caller can persist the
// hash.
// Ledger-side failures come back in the Outcome; the error return is reserved for problems
// on this side (bad report, hook failure, lock unavailable).
func (c *Client) Anchor(ctx context.Context, r *models.Report, onSigned SubmitHook) (Outcome, error) {
	fp, err := verifiedFingerprint(r)
	if err != nil {
		return Outcome{}, err
	}
	payload, err := EncodePayload(fp, Metadata{ReportID: r.ID.String(), Category: r.Key.Category, Location: r.Key.Location})
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode anchor payload")
	}
	if !c.breaker.Allow() {
		return c.record(failure(models.FailureNetworkUnreachable, "ledger rpc circuit is open", false)), nil
	}

	release, err := c.locker.Lock(ctx, c.wallet.Address().Hex())
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for the wallet lock")
		}
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "wallet lock unavailable")
	}
	defer release()

	signed, outcome, err := c.submit(ctx, r, payload, onSigned)
	if err != nil || signed == nil {
		return c.record(outcome), err
	}
	return c.record(c.awaitReceipt(ctx, r, signed)), nil
}

func verifiedFingerprint(r *models.Report) (fingerprint.Fingerprint, error) {
	fp, err := fingerprint.OfReport(r)
	if err != nil {
		return fp, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint report")
	}
	if fp.Hex() != r.Fingerprint {
		return fp, dErrors.New(dErrors.CodeInvariantViolation, "report content does not match its stored fingerprint")
	}
	return fp, nil
}

// submit signs one transaction for r and broadcasts it. Transport errors resend the same
// signed bytes, so a reply lost after the node accepted the transaction can never lead to a
// second transaction with a new nonce. It returns the broadcast transaction, or a failure
// outcome.
func (c *Client) submit(ctx context.Context, r *models.Report, payload []byte, onSigned SubmitHook) (*types.Transaction, Outcome, error) {
	signed, out, err := c.sign(ctx, payload)
	if err != nil || signed == nil {
		return nil, out, err
	}
	txRef := signed.Hash().Hex()
	if onSigned != nil {
		if err := onSigned(ctx, txRef); err != nil {
			return nil, Outcome{TxRef: txRef}, fmt.Errorf("record submission: %w", err)
		}
	}

	var (
		lastErr  error
		maybeOut bool // some send may have reached the node despite failing
	)
	for attempt := range c.submitRetries {
		if attempt > 0 {
			if err := sleep(ctx, c.retryBackoff<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		err := c.observe(c.backend.SendTransaction(ctx, signed))
		if err == nil || isAlreadyKnown(err) {
			c.broadcast(ctx, r, signed, attempt)
			return signed, Outcome{TxRef: txRef}, nil
		}
		if isNetworkError(err) || ctx.Err() != nil {
			lastErr = err
			maybeOut = maybeOut || !isDialError(err)
			c.logger.WarnContext(ctx, "anchor broadcast failed, resending",
				"report_id", r.ID.String(),
				"tx_ref", txRef,
				"attempt", attempt+1,
				"error", err,
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if maybeOut {
			// An earlier send may have been accepted and mined since, in which case the node
			// refuses the resend (nonce too low). Ask the ledger before giving up on it.
			status, serr := c.status(ctx, signed.Hash())
			if serr != nil {
				return nil, txFailure(models.FailureNetworkUnreachable, "resend refused ("+err.Error()+") and status unavailable: "+serr.Error(), true, txRef), nil
			}
			if status.State != TxUnknown {
				c.broadcast(ctx, r, signed, attempt)
				return signed, Outcome{TxRef: txRef}, nil
			}
		}
		if isInsufficientFunds(err) {
			return nil, txFailure(models.FailureInsufficientFunds, err.Error(), false, txRef), nil
		}
		// The node refused the transaction before it entered the pool (underpriced, nonce
		// too low, replacement underpriced). Nothing is on the ledger; a later attempt signs
		// a fresh transaction.
		return nil, txFailure(models.FailureNetworkUnreachable, "node rejected transaction: "+err.Error(), false, txRef), nil
	}
	reason := "ledger rpc unreachable"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return nil, txFailure(models.FailureNetworkUnreachable, reason, maybeOut, txRef), nil
}

// sign builds and signs the anchor transaction, retrying transport errors while reading
// the nonce, gas price and balance.
func (c *Client) sign(ctx context.Context, payload []byte) (*types.Transaction, Outcome, error) {
	var lastErr error
	for attempt := range c.submitRetries {
		if attempt > 0 {
			if err := sleep(ctx, c.retryBackoff<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		signed, err := c.buildAndSign(ctx, payload)
		if err == nil {
			return signed, Outcome{}, nil
		}
		var f *Failure
		if errors.As(err, &f) {
			return nil, Outcome{Failure: f}, nil
		}
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, Outcome{}, err
		}
		lastErr = err
	}
	reason := "ledger rpc unreachable"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return nil, failure(models.FailureNetworkUnreachable, reason, false), nil
}

func (c *Client) broadcast(ctx context.Context, r *models.Report, tx *types.Transaction, attempt int) {
	c.metrics.IncSubmission()
	c.logger.InfoContext(ctx, "anchor transaction broadcast",
		"report_id", r.ID.String(),
		"tx_ref", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
		"attempt", attempt+1,
	)
}

func (c *Client) buildAndSign(ctx context.Context, payload []byte) (*types.Transaction, error) {
	from := c.wallet.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err = c.observe(err); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err = c.observe(err); err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas := c.gasLimit
	if gas == 0 {
		to := c.to
		estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: payload})
		if err = c.observe(err); err != nil {
			switch {
			case isInsufficientFunds(err):
				return nil, &Failure{Kind: models.FailureInsufficientFunds, Reason: err.Error()}
			case !isNetworkError(err):
				return nil, &Failure{Kind: models.FailureNetworkUnreachable, Reason: "node rejected gas estimate: " + err.Error()}
			}
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimate + estimate*gasHeadroomPercent/100
	}

	balance, err := c.backend.BalanceAt(ctx, from, nil)
	if err = c.observe(err); err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	c.metrics.SetWalletBalance(balance)
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
	if balance.Cmp(cost) < 0 {
		return nil, &Failure{
			Kind:   models.FailureInsufficientFunds,
			Reason: fmt.Sprintf("wallet balance %s wei is below the %s wei needed", balance, cost),
		}
	}

	to := c.to
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     payload,
	})
	signed, err := c.wallet.sign(tx, c.chainID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign anchor transaction")
	}
	return signed, nil
}

// awaitReceipt polls for the receipt until the configured depth is reached or the
// confirmation timeout expires.
func (c *Client) awaitReceipt(ctx context.Context, r *models.Report, tx *types.Transaction) Outcome {
	start := c.now()
	txRef := tx.Hash().Hex()
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.status(waitCtx, tx.Hash())
		if err == nil {
			switch status.State {
			case TxConfirmed:
				c.metrics.ObserveConfirmation(start)
				c.logger.InfoContext(ctx, "anchor transaction confirmed",
					"report_id", r.ID.String(),
					"tx_ref", txRef,
					"block_number", status.Proof.BlockNumber,
				)
				return Outcome{Proof: status.Proof, TxRef: txRef}
			case TxReverted:
				return txFailure(models.FailureReverted, status.Reason, true, txRef)
			}
		} else if !isNetworkError(err) {
			c.logger.WarnContext(ctx, "receipt lookup failed", "tx_ref", txRef, "error", err)
		}

		select {
		case <-waitCtx.Done():
			return txFailure(models.FailureTimeout, fmt.Sprintf("no confirmed receipt within %s", c.confirmTimeout), true, txRef)
		case <-ticker.C:
		}
	}
}

func (c *Client) record(out Outcome) Outcome {
	switch {
	case out.Proof != nil:
		c.metrics.IncOutcome("confirmed")
	case out.Failure != nil:
		c.metrics.IncOutcome(string(out.Failure.Kind))
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
