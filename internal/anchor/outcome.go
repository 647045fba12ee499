package anchor

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"civicproof/internal/report/models"
	dErrors "civicproof/pkg/domain-errors"
)

// Outcome is the result of one anchor attempt: exactly one of Proof or Failure is set.
// TxRef is the hash of the last signed transaction, empty if nothing was signed.
type Outcome struct {
	Proof   *models.AnchorProof
	Failure *Failure
	TxRef   string
}

func (o Outcome) Anchored() bool {
	return o.Proof != nil
}

// Failure describes why an attempt produced no proof.
type Failure struct {
	Kind   models.FailureKind
	Reason string
	// Broadcast is true when a transaction may have reached the network. A failure without
	// broadcast consumed no nonce and no gas.
	Broadcast bool
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Reason
}

func (f *Failure) Retryable() bool {
	return f.Kind.Retryable()
}

// Err converts the failure into the caller-facing domain error.
func (f *Failure) Err() error {
	return dErrors.New(f.Kind.Code(), f.Reason)
}

func failure(kind models.FailureKind, reason string, broadcast bool) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Reason: reason, Broadcast: broadcast}}
}

func txFailure(kind models.FailureKind, reason string, broadcast bool, txRef string) Outcome {
	out := failure(kind, reason, broadcast)
	out.TxRef = txRef
	return out
}

func isInsufficientFunds(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance")
}

// isAlreadyKnown reports node answers meaning the same signed transaction is in the pool.
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// isNetworkError reports transport-level failures that say nothing about the transaction.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "i/o timeout", "502 bad gateway", "503 service unavailable", "429 too many requests"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isDialError reports transport failures raised before the request left this host, so the
// node cannot have seen it.
func isDialError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
