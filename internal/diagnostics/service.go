// Package diagnostics reports which secrets are configured and how healthy the anchoring
// wallet is. Secret values never leave the process.
package diagnostics

import (
	"context"
	"log/slog"
	"os"

	"civicproof/internal/access"
	"civicproof/internal/anchor"
	"civicproof/internal/platform/config"
	dErrors "civicproof/pkg/domain-errors"
)

// WalletReader reads the anchoring wallet's state.
type WalletReader interface {
	WalletInfo(ctx context.Context) (*anchor.WalletState, error)
}

// EnvVar tells whether a required variable is set.
type EnvVar struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

type EnvReport struct {
	Environment string   `json:"environment"`
	Variables   []EnvVar `json:"variables"`
	Missing     int      `json:"missing"`
}

type Service struct {
	policy      access.DiagnosticsPolicy
	environment string
	required    []string
	lookup      func(string) (string, bool)
	wallet      WalletReader
	logger      *slog.Logger
}

type Option func(*Service)

// WithWallet enables the wallet diagnostic. Without it the wallet endpoint reports the
// ledger as unavailable.
func WithWallet(w WalletReader) Option {
	return func(s *Service) {
		s.wallet = w
	}
}

// WithLookup replaces os.LookupEnv.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(s *Service) {
		s.lookup = lookup
	}
}

func WithRequired(names []string) Option {
	return func(s *Service) {
		s.required = names
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		policy:      access.DiagnosticsPolicy{Production: cfg.IsProduction()},
		environment: cfg.Environment,
		required:    config.RequiredSecrets,
		lookup:      os.LookupEnv,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Env reports the presence of each required variable. A variable set to the empty string
// counts as missing.
func (s *Service) Env(ctx context.Context) (*EnvReport, error) {
	if err := s.policy.Allow(ctx); err != nil {
		return nil, err
	}
	report := &EnvReport{Environment: s.environment, Variables: make([]EnvVar, 0, len(s.required))}
	for _, name := range s.required {
		v, ok := s.lookup(name)
		present := ok && v != ""
		if !present {
			report.Missing++
		}
		report.Variables = append(report.Variables, EnvVar{Name: name, Present: present})
	}
	return report, nil
}

// Wallet returns the wallet address, balance and chain. Low balances carry funding guidance.
func (s *Service) Wallet(ctx context.Context) (*anchor.WalletState, error) {
	if err := s.policy.Allow(ctx); err != nil {
		return nil, err
	}
	if s.wallet == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "ledger is not configured")
	}
	state, err := s.wallet.WalletInfo(ctx)
	if err != nil {
		return nil, err
	}
	if state.LowBalance {
		s.logger.WarnContext(ctx, "anchoring wallet balance is low",
			"address", state.Address,
			"balance_wei", state.BalanceWei,
			"chain_id", state.ChainID,
		)
	}
	return state, nil
}
