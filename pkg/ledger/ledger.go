// Package ledger anchors certificate fingerprints to content identifiers on a
// permissioned or public ledger and reads those bindings back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Receipt is the confirmation of an anchoring transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Status is the binding the ledger currently holds for a fingerprint.
type Status struct {
	Exists    bool
	ContentID string
}

// Anchorer binds fingerprints to content identifiers. Anchor blocks until the
// transaction is confirmed or ctx is done.
type Anchorer interface {
	Anchor(ctx context.Context, fingerprint, contentID string) (Receipt, error)
}

// Querier reads bindings without writing.
type Querier interface {
	Query(ctx context.Context, fingerprint string) (Status, error)
}

// Client is the full ledger contract used by verification.
type Client interface {
	Anchorer
	Querier
}

// AnchorError reports a failed or unconfirmed anchoring. TxHash is set when a
// transaction was broadcast but did not confirm successfully.
type AnchorError struct {
	Fingerprint string
	TxHash      string
	Reason      string
	Err         error
}

func (e *AnchorError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("anchor %s failed (tx %s): %s", e.Fingerprint, e.TxHash, e.Reason)
	}
	return fmt.Sprintf("anchor %s failed: %s", e.Fingerprint, e.Reason)
}

func (e *AnchorError) Unwrap() error {
	return e.Err
}

// NewAnchorError wraps err as an AnchorError. Context deadline errors get a stable reason.
func NewAnchorError(fingerprint, txHash string, err error) *AnchorError {
	reason := "unknown ledger error"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "confirmation timed out"
	case errors.Is(err, context.Canceled):
		reason = "anchoring canceled"
	case err != nil:
		reason = err.Error()
	}
	return &AnchorError{Fingerprint: fingerprint, TxHash: txHash, Reason: reason, Err: err}
}

// ErrInvalidArgument is returned before any ledger call when inputs are blank.
var ErrInvalidArgument = errors.New("ledger: fingerprint and content id are required")

// ValidateAnchorArgs trims and checks the anchor inputs.
func ValidateAnchorArgs(fingerprint, contentID string) (string, string, error) {
	fp := strings.TrimSpace(fingerprint)
	cid := strings.TrimSpace(contentID)
	if fp == "" || cid == "" {
		return "", "", ErrInvalidArgument
	}
	return fp, cid, nil
}
