package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/originhash-backend/pkg/ledger"
)

type fakeContract struct {
	submitErr     error
	statusResults []commitResult
	statusErrs    []error
	statusCalls   int
	submitted     []string
	evaluated     map[string][]byte
	evaluateErr   error
}

func (f *fakeContract) submitAsync(name string, args ...string) (string, func() (commitResult, error), error) {
	if f.submitErr != nil {
		return "", nil, f.submitErr
	}
	f.submitted = append([]string{name}, args...)
	return "tx-123", func() (commitResult, error) {
		i := f.statusCalls
		f.statusCalls++
		if i < len(f.statusErrs) && f.statusErrs[i] != nil {
			return commitResult{}, f.statusErrs[i]
		}
		return f.statusResults[len(f.statusResults)-1], nil
	}, nil
}

func (f *fakeContract) evaluate(name string, args ...string) ([]byte, error) {
	if f.evaluateErr != nil {
		return nil, f.evaluateErr
	}
	return f.evaluated[name], nil
}

func init() {
	commitStatusInitialInterval = time.Millisecond
}

func TestAnchorCommitsAndReturnsBlock(t *testing.T) {
	fake := &fakeContract{statusResults: []commitResult{{TransactionID: "tx-123", Successful: true, BlockNumber: 12345, Code: "VALID"}}}
	c := &Client{contract: fake}

	receipt, err := c.Anchor(context.Background(), "rec-1", "bafy-doc")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if receipt.TxHash != "tx-123" || receipt.BlockNumber != 12345 || receipt.GasUsed != 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(fake.submitted) != 3 || fake.submitted[0] != txStoreCertificate || fake.submitted[1] != "rec-1" || fake.submitted[2] != "bafy-doc" {
		t.Fatalf("unexpected submission %v", fake.submitted)
	}
}

func TestAnchorRetriesTransientCommitStatus(t *testing.T) {
	fake := &fakeContract{
		statusErrs:    []error{status.Error(codes.Unavailable, "peer restarting"), nil},
		statusResults: []commitResult{{Successful: true, BlockNumber: 9}},
	}
	c := &Client{contract: fake}

	receipt, err := c.Anchor(context.Background(), "rec-1", "bafy-doc")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if fake.statusCalls != 2 || receipt.BlockNumber != 9 {
		t.Fatalf("expected a retry, calls=%d receipt=%+v", fake.statusCalls, receipt)
	}
}

func TestAnchorInvalidatedTransaction(t *testing.T) {
	fake := &fakeContract{statusResults: []commitResult{{Successful: false, Code: "MVCC_READ_CONFLICT"}}}
	c := &Client{contract: fake}

	_, err := c.Anchor(context.Background(), "rec-1", "bafy-doc")
	var anchorErr *ledger.AnchorError
	if !errors.As(err, &anchorErr) {
		t.Fatalf("expected AnchorError, got %v", err)
	}
	if anchorErr.TxHash != "tx-123" {
		t.Fatalf("expected tx id on error, got %+v", anchorErr)
	}
}

func TestAnchorPermanentStatusErrorStopsRetrying(t *testing.T) {
	fake := &fakeContract{
		statusErrs:    []error{status.Error(codes.PermissionDenied, "denied")},
		statusResults: []commitResult{{Successful: true}},
	}
	c := &Client{contract: fake}

	if _, err := c.Anchor(context.Background(), "rec-1", "bafy-doc"); err == nil {
		t.Fatal("expected permanent error")
	}
	if fake.statusCalls != 1 {
		t.Fatalf("expected a single status call, got %d", fake.statusCalls)
	}
}

func TestAnchorSubmitFailure(t *testing.T) {
	c := &Client{contract: &fakeContract{submitErr: errors.New("endorsement failed: caller is not an authorized issuer")}}
	_, err := c.Anchor(context.Background(), "rec-1", "bafy-doc")
	var anchorErr *ledger.AnchorError
	if !errors.As(err, &anchorErr) || anchorErr.TxHash != "" {
		t.Fatalf("expected AnchorError without tx, got %v", err)
	}
}

func TestQueryDecodesChaincodeResponse(t *testing.T) {
	body, _ := json.Marshal(verifyResponse{Exists: true, IPFSHash: "bafy-doc"})
	c := &Client{contract: &fakeContract{evaluated: map[string][]byte{txVerifyCertificate: body, txIsAuthorized: []byte("true")}}}

	st, err := c.Query(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !st.Exists || st.ContentID != "bafy-doc" {
		t.Fatalf("unexpected status %+v", st)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := c.Query(context.Background(), " "); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
