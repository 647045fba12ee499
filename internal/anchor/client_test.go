package anchor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"civicproof/internal/access"
	clusterModels "civicproof/internal/cluster/models"
	"civicproof/internal/platform/config"
	"civicproof/internal/report/fingerprint"
	"civicproof/internal/report/models"
	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/platform/circuit"
	"civicproof/pkg/requestcontext"
)

var (
	errRefused = fmt.Errorf("dial tcp 127.0.0.1:8545: %w", syscall.ECONNREFUSED)
	errReset   = fmt.Errorf("write tcp 127.0.0.1:51234->127.0.0.1:8545: %w", syscall.ECONNRESET)
)

// fakeBackend is an in-memory ledger. Sent transactions are mined into block minedAt after
// receiptDelay receipt lookups.
type fakeBackend struct {
	mu           sync.Mutex
	chainID      *big.Int
	balance      *big.Int
	gasPrice     *big.Int
	nonce        uint64
	head         uint64
	minedAt      uint64
	blockHash    common.Hash
	receiptDelay int
	revert       bool
	neverMine    bool
	sendErrs     []error
	rpcErr       error
	// lostReplies counts sends the node accepts into its pool while the reply is lost.
	lostReplies int
	// duplicateErr is the answer to a resend of a pooled transaction.
	duplicateErr error

	sent    []*types.Transaction
	lookups map[common.Hash]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:      big.NewInt(31337),
		balance:      new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		gasPrice:     big.NewInt(1_000_000_000),
		head:         100,
		minedAt:      100,
		blockHash:    common.HexToHash("0xb10c"),
		lookups:      make(map[common.Hash]int),
		duplicateErr: errors.New("already known"),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.rpcErr
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rpcErr != nil {
		return nil, f.rpcErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, f.rpcErr
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rpcErr != nil {
		return nil, f.rpcErr
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000 + 16*uint64(len(msg.Data)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.find(tx.Hash()) != nil {
		return f.duplicateErr
	}
	if tx.Nonce() < f.nonce {
		return errors.New("nonce too low")
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	if f.lostReplies > 0 {
		f.lostReplies--
		return errReset
	}
	return nil
}

func (f *fakeBackend) find(hash common.Hash) *types.Transaction {
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return tx
		}
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rpcErr != nil {
		return nil, f.rpcErr
	}
	if f.find(hash) == nil || f.neverMine {
		return nil, ethereum.NotFound
	}
	f.lookups[hash]++
	if f.lookups[hash] <= f.receiptDelay {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.revert {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockHash:   f.blockHash,
		BlockNumber: new(big.Int).SetUint64(f.minedAt),
	}, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rpcErr != nil {
		return nil, false, f.rpcErr
	}
	tx := f.find(hash)
	if tx == nil {
		return nil, false, ethereum.NotFound
	}
	return tx, f.neverMine, nil
}

func (f *fakeBackend) Close() {}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type AnchorClientSuite struct {
	suite.Suite
	backend *fakeBackend
	wallet  *Wallet
	client  *Client
}

func TestAnchorClientSuite(t *testing.T) {
	suite.Run(t, new(AnchorClientSuite))
}

func (s *AnchorClientSuite) SetupTest() {
	key, err := crypto.GenerateKey()
	s.Require().NoError(err)
	s.wallet = NewWallet(key)
	s.backend = newFakeBackend()
	s.client = s.newClient()
}

func (s *AnchorClientSuite) newClient(opts ...Option) *Client {
	base := []Option{
		WithPolicy(config.AnchoringPolicy{
			SubmitRetries:  3,
			RetryBackoff:   time.Millisecond,
			ConfirmTimeout: 150 * time.Millisecond,
			Confirmations:  1,
		}),
		WithPollInterval(2 * time.Millisecond),
		WithLowBalance(big.NewInt(5_000_000_000_000_000)),
	}
	return NewClient(&Ledger{Backend: s.backend, Wallet: s.wallet, ChainID: s.backend.chainID}, append(base, opts...)...)
}

func (s *AnchorClientSuite) report() *models.Report {
	ids := []id.FeedbackID{id.NewFeedbackID(), id.NewFeedbackID(), id.NewFeedbackID()}
	r := &models.Report{
		ID:                id.NewReportID(),
		Key:               clusterModels.Key{Category: "infrastructure", Location: "Jakarta"},
		SourceFeedbackIDs: ids,
		SnapshotDigest:    fingerprint.SnapshotDigest(ids),
		Title:             "Road damage in Jakarta",
		Narrative:         "Residents report potholes on the main road.",
		Recommendations:   []string{"Resurface the road"},
		Severity:          models.SeverityHigh,
		GeneratedBy:       "officer-1",
		CreatedAt:         time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC),
		AnchorStatus:      models.AnchorPending,
	}
	fp, err := fingerprint.OfReport(r)
	s.Require().NoError(err)
	r.Fingerprint = fp.Hex()
	return r
}

func (s *AnchorClientSuite) recorder() (SubmitHook, *[]string) {
	var refs []string
	return func(_ context.Context, txRef string) error {
		refs = append(refs, txRef)
		return nil
	}, &refs
}

func (s *AnchorClientSuite) TestAnchorConfirmed() {
	r := s.report()
	hook, refs := s.recorder()

	out, err := s.client.Anchor(context.Background(), r, hook)
	s.Require().NoError(err)
	s.Require().True(out.Anchored(), "failure: %+v", out.Failure)

	s.Equal([]string{out.TxRef}, *refs, "hash recorded before broadcast")
	s.Equal(out.TxRef, out.Proof.TxRef)
	s.Equal(s.backend.blockHash.Hex(), out.Proof.BlockRef)
	s.Equal(uint64(100), out.Proof.BlockNumber)
	s.Equal(int64(31337), out.Proof.ChainID)
	s.Equal(1, s.backend.sentCount())

	tx := s.backend.sent[0]
	sender, err := types.Sender(types.LatestSignerForChainID(s.backend.chainID), tx)
	s.Require().NoError(err)
	s.Equal(s.wallet.Address(), sender)
	s.Equal(s.wallet.Address(), *tx.To())
	s.Zero(tx.Value().Sign())

	fp, meta, err := DecodePayload(tx.Data())
	s.Require().NoError(err)
	s.Equal(r.Fingerprint, fp.Hex())
	s.Equal(Metadata{ReportID: r.ID.String(), Category: "infrastructure", Location: "Jakarta"}, meta)
}

func (s *AnchorClientSuite) TestAnchorWaitsForConfirmationDepth() {
	s.backend.head = 101
	s.backend.minedAt = 100
	c := s.newClient(WithPolicy(config.AnchoringPolicy{SubmitRetries: 1, ConfirmTimeout: 100 * time.Millisecond, Confirmations: 3}))

	out, err := c.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureTimeout, out.Failure.Kind)

	s.backend.head = 102
	status, err := c.TransactionStatus(context.Background(), out.TxRef)
	s.Require().NoError(err)
	s.Equal(TxConfirmed, status.State)
}

func (s *AnchorClientSuite) TestInsufficientFundsNeverBroadcasts() {
	s.backend.balance = big.NewInt(0)
	hook, refs := s.recorder()

	failure := s.client.Preflight(context.Background())
	s.Require().NotNil(failure)
	s.Equal(models.FailureInsufficientFunds, failure.Kind)
	s.True(dErrors.HasCode(failure.Err(), dErrors.CodeInsufficientFunds))

	out, err := s.client.Anchor(context.Background(), s.report(), hook)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureInsufficientFunds, out.Failure.Kind)
	s.False(out.Failure.Broadcast)
	s.False(out.Failure.Retryable())
	s.Empty(*refs)
	s.Zero(s.backend.sentCount())
}

func (s *AnchorClientSuite) TestNodeReportedInsufficientFunds() {
	s.backend.sendErrs = []error{fmt.Errorf("insufficient funds for gas * price + value")}

	out, err := s.client.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureInsufficientFunds, out.Failure.Kind)
	s.False(out.Failure.Broadcast)
}

func (s *AnchorClientSuite) TestTransientSendErrorsResendTheSameTransaction() {
	s.backend.sendErrs = []error{errRefused, errRefused}
	hook, refs := s.recorder()

	out, err := s.client.Anchor(context.Background(), s.report(), hook)
	s.Require().NoError(err)
	s.True(out.Anchored())
	s.Equal([]string{out.TxRef}, *refs, "signed once")
	s.Equal(1, s.backend.sentCount())
}

func (s *AnchorClientSuite) TestUnreachableAfterRetries() {
	s.backend.sendErrs = []error{errRefused, errRefused, errRefused}

	out, err := s.client.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureNetworkUnreachable, out.Failure.Kind)
	s.True(out.Failure.Retryable())
	s.False(out.Failure.Broadcast, "refused dials never reached the node")
	s.NotEmpty(out.TxRef)
}

func (s *AnchorClientSuite) TestLostReplyDoesNotSignASecondTransaction() {
	s.backend.lostReplies = 1
	hook, refs := s.recorder()

	out, err := s.client.Anchor(context.Background(), s.report(), hook)
	s.Require().NoError(err)
	s.Require().True(out.Anchored(), "failure: %+v", out.Failure)

	s.Require().Equal(1, s.backend.sentCount())
	s.Equal(uint64(0), s.backend.sent[0].Nonce())
	s.Equal(s.backend.sent[0].Hash().Hex(), out.TxRef)
	s.Equal([]string{out.TxRef}, *refs)
}

func (s *AnchorClientSuite) TestLostReplyThenMinedIsAdopted() {
	s.backend.lostReplies = 1
	s.backend.duplicateErr = errors.New("nonce too low")

	out, err := s.client.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().True(out.Anchored(), "failure: %+v", out.Failure)
	s.Equal(1, s.backend.sentCount())
}

func (s *AnchorClientSuite) TestResetsOnEveryResendAreMarkedBroadcast() {
	s.backend.sendErrs = []error{errReset, errReset, errReset}

	out, err := s.client.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureNetworkUnreachable, out.Failure.Kind)
	s.True(out.Failure.Broadcast, "a reset connection may have delivered the transaction")
	s.Zero(s.backend.sentCount())
}

func (s *AnchorClientSuite) TestNodeRejectionKeepsReportRetryable() {
	for _, reason := range []string{"transaction underpriced", "replacement transaction underpriced", "nonce too low"} {
		s.Run(reason, func() {
			s.backend = newFakeBackend()
			s.backend.sendErrs = []error{errors.New(reason)}
			c := s.newClient()
			hook, refs := s.recorder()

			out, err := c.Anchor(context.Background(), s.report(), hook)
			s.Require().NoError(err)
			s.Require().NotNil(out.Failure)
			s.Equal(models.FailureNetworkUnreachable, out.Failure.Kind)
			s.False(out.Failure.Broadcast)
			s.True(out.Failure.Retryable())
			s.Contains(out.Failure.Reason, reason)
			s.Len(*refs, 1)
			s.Zero(s.backend.sentCount())
		})
	}
}

func (s *AnchorClientSuite) TestRevertedReceipt() {
	s.backend.revert = true

	out, err := s.client.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureReverted, out.Failure.Kind)
	s.True(out.Failure.Broadcast)
	s.True(dErrors.HasCode(out.Failure.Err(), dErrors.CodeTransactionReverted))
}

func (s *AnchorClientSuite) TestConfirmationTimeout() {
	s.backend.neverMine = true

	out, err := s.client.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Require().NotNil(out.Failure)
	s.Equal(models.FailureTimeout, out.Failure.Kind)
	s.NotEmpty(out.TxRef)

	status, err := s.client.TransactionStatus(context.Background(), out.TxRef)
	s.Require().NoError(err)
	s.Equal(TxPending, status.State)
}

func (s *AnchorClientSuite) TestHookFailureAbortsBeforeBroadcast() {
	hook := func(context.Context, string) error { return fmt.Errorf("database down") }

	_, err := s.client.Anchor(context.Background(), s.report(), hook)
	s.Require().Error(err)
	s.Zero(s.backend.sentCount())
}

func (s *AnchorClientSuite) TestTamperedReportIsRefused() {
	r := s.report()
	r.Narrative = "edited after fingerprinting"

	_, err := s.client.Anchor(context.Background(), r, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.Zero(s.backend.sentCount())
}

func (s *AnchorClientSuite) TestConcurrentAnchorsUseDistinctNonces() {
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.client.Anchor(context.Background(), s.report(), nil)
			s.NoError(err)
			s.True(out.Anchored())
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, tx := range s.backend.sent {
		s.False(seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
	s.Len(seen, 4)
}

func (s *AnchorClientSuite) TestCircuitOpensOnRepeatedTransportFailures() {
	c := s.newClient(WithBreaker(circuit.New("ledger-rpc", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))
	s.backend.rpcErr = errRefused

	s.NotNil(c.Preflight(context.Background()))
	s.NotNil(c.Preflight(context.Background()))
	s.backend.rpcErr = nil

	failure := c.Preflight(context.Background())
	s.Require().NotNil(failure)
	s.Contains(failure.Reason, "circuit is open")

	out, err := c.Anchor(context.Background(), s.report(), nil)
	s.Require().NoError(err)
	s.Equal(models.FailureNetworkUnreachable, out.Failure.Kind)
	s.False(out.Failure.Broadcast)
	s.Zero(s.backend.sentCount())
}

func (s *AnchorClientSuite) TestVerify() {
	r := s.report()
	out, err := s.client.Anchor(context.Background(), r, nil)
	s.Require().NoError(err)
	s.Require().True(out.Anchored())
	r.AnchorStatus = models.AnchorAnchored
	r.Proof = out.Proof

	s.Run("valid anchor", func() {
		v, err := s.client.Verify(context.Background(), r)
		s.Require().NoError(err)
		s.True(v.Valid, v.Reason)
		s.True(v.PayloadMatches)
		s.Equal(uint64(1), v.Confirmations)
	})

	s.Run("edited content no longer matches", func() {
		edited := *r
		edited.Title = "Something else"
		v, err := s.client.Verify(context.Background(), &edited)
		s.Require().NoError(err)
		s.False(v.Valid)
		s.False(v.ContentMatches)
	})

	s.Run("recorded block differs", func() {
		moved := *r
		proof := *r.Proof
		proof.BlockRef = common.HexToHash("0xdead").Hex()
		moved.Proof = &proof
		v, err := s.client.Verify(context.Background(), &moved)
		s.Require().NoError(err)
		s.False(v.Valid)
		s.False(v.BlockMatches)
	})

	s.Run("unanchored report", func() {
		v, err := s.client.Verify(context.Background(), s.report())
		s.Require().NoError(err)
		s.False(v.Valid)
		s.Equal("report is not anchored", v.Reason)
	})
}

func (s *AnchorClientSuite) TestTransactionStatus() {
	s.Run("unknown hash", func() {
		status, err := s.client.TransactionStatus(context.Background(), common.HexToHash("0x01").Hex())
		s.Require().NoError(err)
		s.Equal(TxUnknown, status.State)
	})

	s.Run("malformed reference", func() {
		_, err := s.client.TransactionStatus(context.Background(), "0x1234")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("ledger unreachable", func() {
		s.backend.rpcErr = errRefused
		defer func() { s.backend.rpcErr = nil }()
		_, err := s.client.TransactionStatus(context.Background(), common.HexToHash("0x01").Hex())
		s.True(dErrors.HasCode(err, dErrors.CodeNetworkUnreachable))
	})
}

func (s *AnchorClientSuite) TestWalletInfo() {
	s.Run("outside production anyone may read", func() {
		s.backend.balance = big.NewInt(1000)
		info, err := s.client.WalletInfo(context.Background())
		s.Require().NoError(err)
		s.Equal(s.wallet.Address().Hex(), info.Address)
		s.Equal("1000", info.BalanceWei)
		s.Equal(int64(31337), info.ChainID)
		s.True(info.LowBalance)
		s.Contains(info.FundingGuidance, info.Address)
	})

	s.Run("production requires admin", func() {
		c := s.newClient(WithDiagnosticsPolicy(access.DiagnosticsPolicy{Production: true}))

		ctx := requestcontext.WithIdentity(context.Background(), "officer-1", string(access.RoleGovernment))
		_, err := c.WalletInfo(ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		ctx = requestcontext.WithIdentity(context.Background(), "ops-1", string(access.RoleAdmin))
		info, err := c.WalletInfo(ctx)
		s.Require().NoError(err)
		s.NotEmpty(info.Address)
	})
}

func TestPayloadRoundTrip(t *testing.T) {
	var fp fingerprint.Fingerprint
	fp[0], fp[31] = 0xab, 0xcd
	meta := Metadata{ReportID: id.NewReportID().String(), Category: "water", Location: "Bandung"}

	data, err := EncodePayload(fp, meta)
	require.NoError(t, err)
	assert.Equal(t, Magic, string(data[:4]))

	gotFP, gotMeta, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, fp, gotFP)
	assert.Equal(t, meta, gotMeta)

	_, _, err = DecodePayload([]byte("not an anchor"))
	assert.Error(t, err)
}

func TestLoadWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := fmt.Sprintf("0x%x", crypto.FromECDSA(key))

	w, err := LoadWallet(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), w.Address())

	_, err = LoadWallet("")
	assert.Error(t, err)
	_, err = LoadWallet("zz")
	assert.Error(t, err)
}
