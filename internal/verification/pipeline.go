package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/ipfs"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
	"github.com/angelmondragon/originhash-backend/pkg/metrics"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/outbox/payloads"
)

const reasonInterrupted = "payment not confirmed before interruption"

type finalizeOptions struct {
	emitVerified bool
	emitFailure  bool
	reconciled   bool
}

// run drives a claimed record through payment, upload, anchor and finalize.
// Completed stages are skipped so interrupted runs resume where they stopped.
func (s *service) run(ctx context.Context, cert *models.Certificate, payment *PaymentInput) error {
	if cert.Verified {
		s.metrics.ObserveStage(metrics.StagePayment, metrics.OutcomeSkipped, 0)
	} else {
		if payment == nil {
			if err := s.fail(ctx, cert, reasonInterrupted, nil); err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodePaymentFailed, reasonInterrupted)
		}
		if err := s.confirmPayment(ctx, cert, *payment); err != nil {
			return err
		}
	}

	if cert.HasContent() {
		s.metrics.ObserveStage(metrics.StageUpload, metrics.OutcomeSkipped, 0)
	} else if err := s.uploadContent(ctx, cert); err != nil {
		return err
	}

	s.anchor(ctx, cert)
	return s.finalize(ctx, cert, finalizeOptions{emitVerified: true, emitFailure: true})
}

func (s *service) confirmPayment(ctx context.Context, cert *models.Certificate, input PaymentInput) error {
	ctx = s.logg.WithStage(ctx, "payment")
	start := time.Now()
	receipt, err := s.payments.Confirm(ctx, PaymentRequest{
		CertificateID: cert.ID,
		UniqueID:      cert.UniqueID,
		CardNumber:    input.CardNumber,
		ExpiryMonth:   input.ExpiryMonth,
		ExpiryYear:    input.ExpiryYear,
		CVCode:        input.CVCode,
		Amount:        s.settings.Fee,
		Currency:      s.settings.Currency,
	})
	if err != nil {
		s.metrics.ObserveStage(metrics.StagePayment, metrics.OutcomeFailure, time.Since(start))
		s.logg.Error(ctx, "payment confirmation failed", err)
		if failErr := s.fail(ctx, cert, "payment failed: "+err.Error(), nil); failErr != nil {
			return failErr
		}
		return pkgerrors.Wrap(pkgerrors.CodePaymentFailed, err, "payment could not be confirmed")
	}

	paidAt := receipt.PaidAt.UTC()
	amount := receipt.Amount
	if amount.IsZero() && !s.settings.Fee.IsZero() {
		amount = s.settings.Fee
	}
	currency := receipt.Currency
	if currency == "" {
		currency = s.settings.Currency
	}
	cert.Verified = true
	cert.PaymentCardMasked = MaskCardNumber(input.CardNumber)
	cert.PaymentExpiryMonth = strings.TrimSpace(input.ExpiryMonth)
	cert.PaymentExpiryYear = strings.TrimSpace(input.ExpiryYear)
	cert.PaymentDate = &paidAt
	cert.PaymentAmount = decimal.NullDecimal{Decimal: amount, Valid: true}
	cert.PaymentCurrency = currency

	if err := s.repo.Save(ctx, cert); err != nil {
		s.metrics.ObserveStage(metrics.StagePayment, metrics.OutcomeFailure, time.Since(start))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment confirmation")
	}
	s.metrics.ObserveStage(metrics.StagePayment, metrics.OutcomeSuccess, time.Since(start))
	s.logg.Info(s.logg.WithField(ctx, "payment_reference", receipt.Reference), "payment confirmed")
	return nil
}

type uploadOutcome struct {
	kind   enums.ArtifactKind
	result ipfs.UploadResult
	err    error
}

func (s *service) uploadContent(ctx context.Context, cert *models.Certificate) error {
	ctx = s.logg.WithStage(ctx, "upload")
	start := time.Now()
	uploadDate := s.now().Format(time.RFC3339)
	targets := []struct {
		kind enums.ArtifactKind
		key  string
	}{
		{enums.ArtifactKindPNG, cert.ImageKey},
		{enums.ArtifactKindPDF, cert.DocumentKey},
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		outcomes = make(map[enums.ArtifactKind]uploadOutcome, len(targets))
	)
	for _, target := range targets {
		g.Go(func() error {
			outcome := uploadOutcome{kind: target.kind}
			outcome.result, outcome.err = s.uploadArtifact(ctx, cert, target.kind, target.key, uploadDate)
			mu.Lock()
			outcomes[target.kind] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var (
		succeeded int
		failures  []string
		pinned    []string
		totalSize int64
	)
	for _, target := range targets {
		outcome := outcomes[target.kind]
		if outcome.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", target.kind, uploadReason(outcome.err)))
			s.logg.Error(s.logg.WithField(ctx, "artifact", target.kind.String()), "artifact upload failed", outcome.err)
			continue
		}
		succeeded++
		pinned = append(pinned, outcome.result.ContentID)
		totalSize += outcome.result.SizeBytes
		switch target.kind {
		case enums.ArtifactKindPNG:
			cert.PNGIPFSHash = outcome.result.ContentID
			cert.PNGGatewayURL = outcome.result.GatewayURL
		case enums.ArtifactKindPDF:
			cert.PDFIPFSHash = outcome.result.ContentID
			cert.PDFGatewayURL = outcome.result.GatewayURL
		}
	}

	cert.IPFSUploadStatus = enums.IPFSUploadStatusFor(succeeded, len(targets))
	cert.IPFSError = strings.Join(failures, "; ")

	if succeeded == 0 {
		s.metrics.ObserveStage(metrics.StageUpload, metrics.OutcomeFailure, time.Since(start))
		reason := "content upload failed: " + cert.IPFSError
		event := &outbox.DomainEvent{
			EventType:     enums.EventCertificateUploadFailed,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID,
			Subject:       cert.UniqueID,
			Data: payloads.CertificateUploadFailedEvent{
				CertificateID: cert.ID,
				UniqueID:      cert.UniqueID,
				Reason:        reason,
			},
		}
		if err := s.fail(ctx, cert, reason, event); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeUploadFailed, "certificate content could not be uploaded").
			WithDetails(map[string]any{"reason": cert.IPFSError})
	}

	uploadedAt := s.now()
	cert.IPFSHash = cert.PDFIPFSHash
	if cert.IPFSHash == "" {
		cert.IPFSHash = cert.PNGIPFSHash
	}
	cert.IPFSUploadDate = &uploadedAt
	cert.IPFSSize = totalSize

	outcome := metrics.OutcomeSuccess
	if succeeded < len(targets) {
		outcome = metrics.OutcomePartial
	}
	if err := s.repo.Save(ctx, cert); err != nil {
		s.metrics.ObserveStage(metrics.StageUpload, metrics.OutcomeFailure, time.Since(start))
		s.releasePins(ctx, pinned)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist content upload")
	}
	s.metrics.ObserveStage(metrics.StageUpload, outcome, time.Since(start))
	s.logg.Info(s.logg.WithField(ctx, "ipfs_hash", cert.IPFSHash), "certificate content uploaded")
	return nil
}

func (s *service) uploadArtifact(ctx context.Context, cert *models.Certificate, kind enums.ArtifactKind, key, uploadDate string) (ipfs.UploadResult, error) {
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		return ipfs.UploadResult{}, fmt.Errorf("read artifact %s: %w", key, err)
	}
	name := fmt.Sprintf("cert-%s.%s", cert.UniqueID, kind)
	return s.uploader.Upload(ctx, data, name, ipfs.Metadata{
		"type":        kind.PinType(),
		"studentName": cert.StudentName,
		"courseName":  cert.CourseName,
		"uniqueId":    cert.UniqueID,
		"uploadDate":  uploadDate,
	})
}

// releasePins unpins content ids that never made it onto the record.
func (s *service) releasePins(ctx context.Context, contentIDs []string) {
	ctx = context.WithoutCancel(ctx)
	var errs error
	for _, contentID := range contentIDs {
		errs = multierr.Append(errs, s.uploader.Unpin(ctx, contentID))
	}
	if errs != nil {
		s.logg.Error(s.logg.WithField(ctx, "content_ids", contentIDs), "failed to release unrecorded pins", errs)
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "content_ids", contentIDs), "released unrecorded pins")
}

func uploadReason(err error) string {
	var uploadErr *ipfs.UploadError
	if errors.As(err, &uploadErr) && uploadErr.Reason != "" {
		return uploadErr.Reason
	}
	return err.Error()
}

// anchor records the ledger outcome on cert. Ledger failures never fail the run.
func (s *service) anchor(ctx context.Context, cert *models.Certificate) {
	ctx = s.logg.WithStage(ctx, "anchor")
	start := time.Now()
	fingerprint := cert.Fingerprint()
	cert.LedgerFingerprint = fingerprint

	anchorCtx, cancel := context.WithTimeout(ctx, s.settings.ConfirmTimeout)
	defer cancel()

	receipt, err := s.ledger.Anchor(anchorCtx, fingerprint, cert.PrimaryCID())
	if err != nil {
		anchorErr := asAnchorError(fingerprint, err)
		cert.BlockchainVerified = false
		cert.BlockchainError = anchorErr.Error()
		s.metrics.ObserveStage(metrics.StageAnchor, metrics.OutcomeFailure, time.Since(start))
		s.logg.Error(s.logg.WithField(ctx, "fingerprint", fingerprint), "ledger anchoring failed", anchorErr)
		return
	}

	blockNumber := int64(receipt.BlockNumber)
	gasUsed := int64(receipt.GasUsed)
	cert.BlockchainVerified = true
	cert.BlockchainTxHash = receipt.TxHash
	cert.BlockNumber = &blockNumber
	cert.GasUsed = &gasUsed
	cert.BlockchainError = ""
	s.metrics.ObserveStage(metrics.StageAnchor, metrics.OutcomeSuccess, time.Since(start))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"fingerprint":  fingerprint,
		"tx_hash":      receipt.TxHash,
		"block_number": receipt.BlockNumber,
	}), "certificate anchored")
}

func asAnchorError(fingerprint string, err error) *ledger.AnchorError {
	var anchorErr *ledger.AnchorError
	if errors.As(err, &anchorErr) {
		return anchorErr
	}
	return ledger.NewAnchorError(fingerprint, "", err)
}

// retryAnchor reconciles a partial record with the ledger before submitting again.
func (s *service) retryAnchor(ctx context.Context, cert *models.Certificate) error {
	ctx = s.logg.WithStage(ctx, "anchor")
	fingerprint := cert.Fingerprint()
	status, err := s.queryLedger(ctx, fingerprint)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query ledger before retry")
	}

	switch {
	case HashesMatch(status.Exists, cert.PrimaryCID(), status.ContentID):
		cert.LedgerFingerprint = fingerprint
		cert.BlockchainVerified = true
		cert.BlockchainError = ""
		s.logg.Info(ctx, "ledger already holds the stored content id; reconciling")
		return s.finalize(ctx, cert, finalizeOptions{reconciled: true})
	case status.Exists:
		cert.LedgerFingerprint = fingerprint
		cert.BlockchainError = fmt.Sprintf("ledger holds content id %s, expected %s", status.ContentID, cert.PrimaryCID())
		s.logg.Warn(ctx, "ledger binding disagrees with stored content id")
		return s.finalize(ctx, cert, finalizeOptions{})
	}

	s.anchor(ctx, cert)
	return s.finalize(ctx, cert, finalizeOptions{})
}

func (s *service) queryLedger(ctx context.Context, fingerprint string) (ledger.Status, error) {
	start := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	status, err := s.ledger.Query(queryCtx, fingerprint)
	if err != nil {
		s.metrics.ObserveStage(metrics.StageLedgerQuery, metrics.OutcomeFailure, time.Since(start))
		return ledger.Status{}, err
	}
	s.metrics.ObserveStage(metrics.StageLedgerQuery, metrics.OutcomeSuccess, time.Since(start))
	return status, nil
}

// finalize settles the record as completed or partial and queues the matching events in one transaction.
func (s *service) finalize(ctx context.Context, cert *models.Certificate, opts finalizeOptions) error {
	start := time.Now()
	next := enums.ProcessingStatusPartial
	if cert.BlockchainVerified {
		next = enums.ProcessingStatusCompleted
	}
	if err := transition(cert, next); err != nil {
		return err
	}
	processedAt := s.now()
	cert.ProcessedAt = &processedAt
	cert.ProcessingError = ""

	events := s.finalizeEvents(cert, opts, processedAt)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, cert); err != nil {
			return err
		}
		for _, event := range events {
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveStage(metrics.StageFinalize, metrics.OutcomeFailure, time.Since(start))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize verification")
	}

	outcome := metrics.OutcomeSuccess
	if next == enums.ProcessingStatusPartial {
		outcome = metrics.OutcomePartial
	}
	s.metrics.ObserveStage(metrics.StageFinalize, outcome, time.Since(start))
	s.logg.Info(s.logg.WithField(ctx, "processing_status", next.String()), "verification finalized")
	return nil
}

func (s *service) finalizeEvents(cert *models.Certificate, opts finalizeOptions, at time.Time) []outbox.DomainEvent {
	var events []outbox.DomainEvent
	if opts.emitVerified {
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventCertificateVerified,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID,
			Subject:       cert.UniqueID,
			OccurredAt:    at,
			Data: payloads.CertificateVerifiedEvent{
				CertificateID:    cert.ID,
				UniqueID:         cert.UniqueID,
				StudentEmail:     cert.StudentEmail,
				IPFSHash:         cert.PrimaryCID(),
				UploadStatus:     cert.IPFSUploadStatus,
				ProcessingStatus: cert.ProcessingStatus,
				VerifiedAt:       at,
			},
		})
	}
	switch {
	case cert.BlockchainVerified:
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventCertificateAnchored,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID,
			Subject:       cert.UniqueID,
			OccurredAt:    at,
			Data: payloads.CertificateAnchoredEvent{
				CertificateID: cert.ID,
				UniqueID:      cert.UniqueID,
				Fingerprint:   cert.LedgerFingerprint,
				IPFSHash:      cert.PrimaryCID(),
				TxHash:        cert.BlockchainTxHash,
				BlockNumber:   cert.BlockNumber,
				GasUsed:       cert.GasUsed,
				Reconciled:    opts.reconciled,
			},
		})
	case opts.emitFailure:
		events = append(events, outbox.DomainEvent{
			EventType:     enums.EventCertificateAnchorFailed,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID,
			Subject:       cert.UniqueID,
			OccurredAt:    at,
			Data: payloads.CertificateAnchorFailedEvent{
				CertificateID: cert.ID,
				UniqueID:      cert.UniqueID,
				Fingerprint:   cert.LedgerFingerprint,
				IPFSHash:      cert.PrimaryCID(),
				Reason:        cert.BlockchainError,
			},
		})
	}
	return events
}

// fail marks the run failed with reason, optionally queuing event alongside.
func (s *service) fail(ctx context.Context, cert *models.Certificate, reason string, event *outbox.DomainEvent) error {
	if err := transition(cert, enums.ProcessingStatusFailed); err != nil {
		return err
	}
	cert.ProcessingError = reason

	persistCtx := context.WithoutCancel(ctx)
	err := s.tx.WithTx(persistCtx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(persistCtx, cert); err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		return s.outbox.Emit(persistCtx, tx, *event)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist verification failure")
	}
	s.logg.Warn(s.logg.WithField(ctx, "processing_error", reason), "verification failed")
	return nil
}

func transition(cert *models.Certificate, next enums.ProcessingStatus) error {
	if !cert.ProcessingStatus.CanTransitionTo(next) {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("illegal processing transition %s -> %s", cert.ProcessingStatus, next))
	}
	cert.ProcessingStatus = next
	return nil
}
