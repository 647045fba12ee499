package diagnostics

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicproof/internal/anchor"
	"civicproof/internal/platform/config"
	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/testutil"
)

type stubWallet struct {
	state *anchor.WalletState
	err   error
}

func (s stubWallet) WalletInfo(context.Context) (*anchor.WalletState, error) {
	return s.state, s.err
}

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func router(svc *Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestEnvReportsPresenceOnly(t *testing.T) {
	svc := New(&config.Config{Environment: config.EnvDevelopment},
		WithRequired([]string{"DATABASE_URL", "LEDGER_PRIVATE_KEY", "LLM_API_KEY"}),
		WithLookup(fakeEnv(map[string]string{
			"DATABASE_URL":       "postgres://civic:secret@db/civic",
			"LEDGER_PRIVATE_KEY": "",
		})),
	)

	rr := testutil.DoRequest(router(svc), testutil.NewRequest(t, http.MethodGet, "/diagnostics/env"))
	testutil.AssertStatusOK(t, rr)
	assert.NotContains(t, rr.Body.String(), "secret")

	report := testutil.UnmarshalResponse[EnvReport](t, rr)
	assert.Equal(t, []EnvVar{
		{Name: "DATABASE_URL", Present: true},
		{Name: "LEDGER_PRIVATE_KEY", Present: false},
		{Name: "LLM_API_KEY", Present: false},
	}, report.Variables)
	assert.Equal(t, 2, report.Missing)
}

func TestProductionRequiresAdmin(t *testing.T) {
	svc := New(&config.Config{Environment: config.EnvProduction}, WithLookup(fakeEnv(nil)))
	h := router(svc)

	for _, path := range []string{"/diagnostics/env", "/diagnostics/wallet"} {
		t.Run(path, func(t *testing.T) {
			testutil.AssertStatusAndError(t, testutil.DoRequest(h, testutil.NewRequest(t, http.MethodGet, path)),
				http.StatusUnauthorized, "unauthorized")
			testutil.AssertStatusAndError(t, testutil.DoRequest(h, testutil.AsGovernment(testutil.NewRequest(t, http.MethodGet, path))),
				http.StatusForbidden, "forbidden")
		})
	}

	rr := testutil.DoRequest(h, testutil.WithIdentity(testutil.NewRequest(t, http.MethodGet, "/diagnostics/env"), "ops-1", "admin"))
	testutil.AssertStatusOK(t, rr)
}

func TestWallet(t *testing.T) {
	t.Run("low balance carries guidance", func(t *testing.T) {
		state := &anchor.WalletState{
			Address:         "0x00000000000000000000000000000000000000aa",
			Balance:         big.NewInt(0),
			BalanceWei:      "0",
			ChainID:         31337,
			LowBalance:      true,
			FundingGuidance: "balance is below 100 wei; send funds on chain 31337 to 0x00000000000000000000000000000000000000aa before anchoring",
		}
		svc := New(&config.Config{Environment: config.EnvDevelopment}, WithWallet(stubWallet{state: state}))

		rr := testutil.DoRequest(router(svc), testutil.NewRequest(t, http.MethodGet, "/diagnostics/wallet"))
		testutil.AssertStatusOK(t, rr)
		got := testutil.UnmarshalResponse[anchor.WalletState](t, rr)
		assert.True(t, got.LowBalance)
		assert.Equal(t, "0", got.BalanceWei)
		assert.Contains(t, got.FundingGuidance, "send funds")
	})

	t.Run("ledger not configured", func(t *testing.T) {
		svc := New(&config.Config{Environment: config.EnvDevelopment})
		_, err := svc.Wallet(context.Background())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("ledger unreachable", func(t *testing.T) {
		svc := New(&config.Config{Environment: config.EnvDevelopment},
			WithWallet(stubWallet{err: dErrors.New(dErrors.CodeNetworkUnreachable, "ledger unreachable")}))
		rr := testutil.DoRequest(router(svc), testutil.NewRequest(t, http.MethodGet, "/diagnostics/wallet"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadGateway, "network_unreachable")
	})
}
