package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/angelmondragon/originhash-backend/pkg/ipfs"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodePaymentFailed, status: http.StatusPaymentRequired, publicMsg: "payment could not be confirmed"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusConflict, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error"},
		{code: CodeUploadFailed, status: http.StatusBadGateway, publicMsg: "certificate content could not be uploaded", retryable: true, detailsOK: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "card number too short")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "card number too short" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	base.WithDetails(map[string]any{"field": "cardNumber"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("pinata unreachable")
	wrapped := Wrap(CodeUploadFailed, cause, "upload certificate content")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeUploadFailed {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	err := fmt.Errorf("confirm payment: %w", New(CodeNotFound, "certificate not found"))
	if !IsCode(err, CodeNotFound) {
		t.Fatalf("expected wrapped error to carry NOT_FOUND")
	}
	if IsCode(err, CodeValidation) {
		t.Fatalf("did not expect VALIDATION_ERROR")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatalf("nil error must not match")
	}
}

func TestDumpCapturesChain(t *testing.T) {
	err := fmt.Errorf("persist checkpoint: %w", Wrap(CodeInternal, stdErrors.New("disk full"), "save certificate"))
	d := Dump(err)
	if d.Code != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR code, got %s", d.Code)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d: %v", len(d.Chain), d.Chain)
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("expected empty dump for nil")
	}
}

func TestDumpSurfacesPipelineCauses(t *testing.T) {
	anchor := ledger.NewAnchorError("fp-1", "0xabc", context.DeadlineExceeded)
	err := Wrap(CodeDependency, anchor, "anchor certificate")
	d := Dump(err)
	if d.LedgerFingerprint != "fp-1" || d.LedgerTxHash != "0xabc" || d.LedgerReason != "confirmation timed out" {
		t.Fatalf("unexpected ledger fields %+v", d)
	}
	fields := d.Fields()
	if fields["ledger_reason"] != "confirmation timed out" {
		t.Fatalf("expected ledger_reason in fields, got %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("empty pg fields should be omitted: %v", fields)
	}

	upload := &ipfs.UploadError{Name: "CERT-1.pdf", StatusCode: 502, Reason: "bad gateway"}
	d = Dump(fmt.Errorf("upload: %w", upload))
	if d.UploadName != "CERT-1.pdf" || d.UploadStatus != 502 {
		t.Fatalf("unexpected upload fields %+v", d)
	}
	if d.Fields()["upload_status"] != 502 {
		t.Fatalf("expected upload_status field")
	}
}
