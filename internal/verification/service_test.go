package verification

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/internal/certificates"
	"github.com/angelmondragon/originhash-backend/pkg/db"
	"github.com/angelmondragon/originhash-backend/pkg/db/dbtest"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/ipfs"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/storage"
)

var fixedNow = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

type stubUploader struct {
	mu       sync.Mutex
	cids     map[string]string
	fail     map[string]error
	names    []string
	unpinned []string
}

func (u *stubUploader) Upload(ctx context.Context, data []byte, name string, meta ipfs.Metadata) (ipfs.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.names = append(u.names, name)
	ext := name[strings.LastIndex(name, ".")+1:]
	if err := u.fail[ext]; err != nil {
		return ipfs.UploadResult{}, &ipfs.UploadError{Name: name, Reason: err.Error(), Err: err}
	}
	if meta["uniqueId"] == "" || meta["type"] != "certificate_"+ext {
		return ipfs.UploadResult{}, errors.New("missing pin metadata")
	}
	cid := u.cids[ext]
	return ipfs.UploadResult{
		ContentID:  cid,
		SizeBytes:  int64(len(data)),
		GatewayURL: "https://gateway.test/ipfs/" + cid,
		Timestamp:  fixedNow,
	}, nil
}

func (u *stubUploader) Unpin(ctx context.Context, contentID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unpinned = append(u.unpinned, contentID)
	return nil
}

func (u *stubUploader) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.names)
}

type stubLedger struct {
	mu          sync.Mutex
	bindings    map[string]string
	anchorErr   error
	block       bool
	anchorCalls int
	receipt     ledger.Receipt
}

func (l *stubLedger) Anchor(ctx context.Context, fingerprint, contentID string) (ledger.Receipt, error) {
	l.mu.Lock()
	l.anchorCalls++
	block, anchorErr := l.block, l.anchorErr
	l.mu.Unlock()
	if block {
		<-ctx.Done()
		return ledger.Receipt{}, ledger.NewAnchorError(fingerprint, "", ctx.Err())
	}
	if anchorErr != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fingerprint, "", anchorErr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bindings[fingerprint] = contentID
	return l.receipt, nil
}

func (l *stubLedger) Query(ctx context.Context, fingerprint string) (ledger.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cid, ok := l.bindings[fingerprint]
	return ledger.Status{Exists: ok, ContentID: cid}, nil
}

type saveFailingRepo struct {
	certificates.Repository
	err error
}

func (r saveFailingRepo) Save(ctx context.Context, cert *models.Certificate) error {
	return r.err
}

type declinedProcessor struct{}

func (declinedProcessor) Confirm(context.Context, PaymentRequest) (PaymentReceipt, error) {
	return PaymentReceipt{}, errors.New("card declined")
}

type testEnv struct {
	conn     *gorm.DB
	repo     certificates.Repository
	store    *storage.Local
	uploader *stubUploader
	ledger   *stubLedger
	service  Service
}

type envOption func(*ServiceParams)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	t.Cleanup(func() {
		goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
	})
	conn := dbtest.Open(t)
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	uploader := &stubUploader{cids: map[string]string{"png": "Qimg", "pdf": "Qdoc"}, fail: map[string]error{}}
	chain := &stubLedger{
		bindings: map[string]string{},
		receipt:  ledger.Receipt{TxHash: "0xabc", BlockNumber: 12345, GasUsed: 21000},
	}
	repo := certificates.NewRepository(conn)
	params := ServiceParams{
		Repo:     repo,
		Tx:       db.NewFromGorm(conn),
		Storage:  store,
		Uploader: uploader,
		Ledger:   chain,
		Payments: SimulatedProcessor{Now: func() time.Time { return fixedNow }},
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Settings: Settings{
			Fee:            decimal.RequireFromString("25.00"),
			Currency:       "USD",
			ConfirmTimeout: time.Second,
			QueryTimeout:   time.Second,
		},
		Logger: logg,
		Now:    func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{conn: conn, repo: repo, store: store, uploader: uploader, ledger: chain, service: svc}
}

func (e *testEnv) seed(t *testing.T, uniqueID string, mutate func(*models.Certificate)) *models.Certificate {
	t.Helper()
	ctx := context.Background()
	cert := &models.Certificate{
		ID:               uuid.New(),
		UniqueID:         uniqueID,
		StudentEmail:     "ada@example.com",
		StudentName:      "Ada Lovelace",
		CourseName:       "Analytical Engines",
		IssueDate:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Hash:             certificates.ComputeHash("ada@example.com", "Analytical Engines", uniqueID),
		ImageKey:         "certificates/cert-" + uniqueID + ".png",
		DocumentKey:      "certificates/cert-" + uniqueID + ".pdf",
		IPFSUploadStatus: enums.IPFSUploadStatusPending,
		ProcessingStatus: enums.ProcessingStatusNotProcessed,
		MetadataVersion:  models.CurrentMetadataVersion,
	}
	if mutate != nil {
		mutate(cert)
	}
	if err := e.store.Put(ctx, cert.ImageKey, "image/png", []byte("png-bytes")); err != nil {
		t.Fatalf("put image: %v", err)
	}
	if err := e.store.Put(ctx, cert.DocumentKey, "application/pdf", []byte("pdf-bytes")); err != nil {
		t.Fatalf("put document: %v", err)
	}
	if err := e.repo.Create(ctx, cert); err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return cert
}

func (e *testEnv) load(t *testing.T, uniqueID string) *models.Certificate {
	t.Helper()
	cert, err := e.repo.FindByUniqueID(context.Background(), uniqueID)
	if err != nil {
		t.Fatalf("load %s: %v", uniqueID, err)
	}
	return cert
}

func (e *testEnv) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := e.conn.Table("outbox_events").Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func paymentFor(uniqueID string) PaymentInput {
	return PaymentInput{
		UniqueID:    uniqueID,
		CardNumber:  "4111111111111111",
		ExpiryMonth: "12",
		ExpiryYear:  "2030",
		CVCode:      "123",
	}
}

func TestConfirmPaymentAndAnchorCompletesPipeline(t *testing.T) {
	env := newTestEnv(t)
	cert := env.seed(t, "CERT-001", nil)

	result, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-001"))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.Replayed {
		t.Fatal("first run must not be a replay")
	}
	if !result.Verified || !result.Blockchain.BlockchainVerified {
		t.Fatalf("expected verified and anchored, got %+v", result.Detail)
	}
	if result.IPFS.PNGIPFSHash != "Qimg" || result.IPFS.PDFIPFSHash != "Qdoc" || result.IPFS.IPFSHash != "Qdoc" {
		t.Fatalf("unexpected content ids %+v", result.IPFS)
	}
	if result.Blockchain.TxHash != "0xabc" || result.Blockchain.BlockNumber == nil || *result.Blockchain.BlockNumber != 12345 {
		t.Fatalf("unexpected anchor view %+v", result.Blockchain)
	}
	if result.Payment.CardNumber != "**** **** **** 1111" || result.Payment.Amount != "25.00" {
		t.Fatalf("unexpected payment view %+v", result.Payment)
	}

	stored := env.load(t, "CERT-001")
	if stored.ProcessingStatus != enums.ProcessingStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.ProcessingStatus)
	}
	if stored.IPFSUploadStatus != enums.IPFSUploadStatusSuccess {
		t.Fatalf("expected upload success, got %s", stored.IPFSUploadStatus)
	}
	if stored.LedgerFingerprint != cert.ID.String() {
		t.Fatalf("expected fingerprint %s, got %s", cert.ID, stored.LedgerFingerprint)
	}
	if stored.VerificationAttempts != 1 || stored.ProcessedAt == nil {
		t.Fatalf("expected one attempt with processed timestamp, got %+v", stored)
	}
	if got := env.ledger.bindings[cert.ID.String()]; got != "Qdoc" {
		t.Fatalf("expected ledger binding to Qdoc, got %q", got)
	}
	if env.events(t, enums.EventCertificateVerified) != 1 || env.events(t, enums.EventCertificateAnchored) != 1 {
		t.Fatal("expected verified and anchored events")
	}
}

func TestConfirmPaymentAndAnchorReplaysSettledRecord(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "CERT-002", nil)
	ctx := context.Background()

	if _, err := env.service.ConfirmPaymentAndAnchor(ctx, paymentFor("CERT-002")); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	uploads, anchors := env.uploader.calls(), env.ledger.anchorCalls

	result, err := env.service.ConfirmPaymentAndAnchor(ctx, paymentFor("CERT-002"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.Replayed {
		t.Fatal("expected replayed result")
	}
	if env.uploader.calls() != uploads || env.ledger.anchorCalls != anchors {
		t.Fatal("replay must not touch uploader or ledger")
	}
	if stored := env.load(t, "CERT-002"); stored.VerificationAttempts != 1 {
		t.Fatalf("replay must not count an attempt, got %d", stored.VerificationAttempts)
	}
}

func TestConfirmPaymentAndAnchorRejectsInFlightRecord(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "CERT-003", func(c *models.Certificate) {
		c.ProcessingStatus = enums.ProcessingStatusProcessing
	})

	_, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-003"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if env.uploader.calls() != 0 {
		t.Fatal("in-flight record must not be uploaded again")
	}
}

func TestConfirmPaymentAndAnchorValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	input := paymentFor("CERT-404")
	for _, card := range []string{"411", "1 2 3", " 4-1-1 "} {
		input.CardNumber = card
		if _, err := env.service.ConfirmPaymentAndAnchor(ctx, input); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for card %q, got %v", card, err)
		}
	}
	if _, err := env.service.ConfirmPaymentAndAnchor(ctx, paymentFor("CERT-404")); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.service.VerifyByIdentifier(ctx, "CERT-404"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found on lookup, got %v", err)
	}
	var count int64
	if err := env.conn.Table("outbox_events").Count(&count).Error; err != nil || count != 0 {
		t.Fatalf("expected no events, got %d (%v)", count, err)
	}
}

func TestConfirmPaymentAndAnchorPaymentDeclined(t *testing.T) {
	env := newTestEnv(t, func(p *ServiceParams) { p.Payments = declinedProcessor{} })
	env.seed(t, "CERT-004", nil)

	_, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-004"))
	if !pkgerrors.IsCode(err, pkgerrors.CodePaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	stored := env.load(t, "CERT-004")
	if stored.Verified || stored.ProcessingStatus != enums.ProcessingStatusFailed {
		t.Fatalf("expected unverified failed record, got %+v", stored)
	}
	if env.uploader.calls() != 0 {
		t.Fatal("declined payment must not upload")
	}
}

func TestConfirmPaymentAndAnchorAllUploadsFail(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.fail["png"] = errors.New("pinata 500")
	env.uploader.fail["pdf"] = errors.New("pinata 500")
	env.seed(t, "CERT-005", nil)

	_, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-005"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeUploadFailed) {
		t.Fatalf("expected upload failure, got %v", err)
	}
	if env.ledger.anchorCalls != 0 {
		t.Fatalf("ledger must not be called, got %d calls", env.ledger.anchorCalls)
	}
	stored := env.load(t, "CERT-005")
	if !stored.Verified || stored.BlockchainVerified {
		t.Fatalf("expected paid but unanchored record, got %+v", stored)
	}
	if stored.ProcessingStatus != enums.ProcessingStatusFailed || stored.IPFSUploadStatus != enums.IPFSUploadStatusFailed {
		t.Fatalf("unexpected statuses %s/%s", stored.ProcessingStatus, stored.IPFSUploadStatus)
	}
	if !strings.Contains(stored.IPFSError, "png") || !strings.Contains(stored.IPFSError, "pdf") {
		t.Fatalf("expected both failures recorded, got %q", stored.IPFSError)
	}
	if env.events(t, enums.EventCertificateUploadFailed) != 1 {
		t.Fatal("expected upload failed event")
	}

	// A later attempt skips payment and retries the upload.
	delete(env.uploader.fail, "png")
	delete(env.uploader.fail, "pdf")
	result, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-005"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.ProcessingStatus != enums.ProcessingStatusCompleted || result.VerificationAttempts != 2 {
		t.Fatalf("expected completed second attempt, got %+v", result.Detail)
	}
}

func TestConfirmPaymentAndAnchorPartialUpload(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.fail["pdf"] = errors.New("timeout")
	env.seed(t, "CERT-006", nil)

	result, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-006"))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.IPFS.UploadStatus != enums.IPFSUploadStatusPartial || result.IPFS.IPFSHash != "Qimg" {
		t.Fatalf("expected image-only content, got %+v", result.IPFS)
	}
	if got := env.ledger.bindings[result.ID.String()]; got != "Qimg" {
		t.Fatalf("expected image anchored, got %q", got)
	}
}

func TestConfirmPaymentAndAnchorLedgerFailureLeavesPartial(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.anchorErr = errors.New("execution reverted")
	env.seed(t, "CERT-007", nil)

	result, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-007"))
	if err != nil {
		t.Fatalf("ledger failure must not fail the run: %v", err)
	}
	if !result.Verified || result.Blockchain.BlockchainVerified {
		t.Fatalf("expected verified but unanchored, got %+v", result.Detail)
	}
	if result.Payment.CardNumber != "**** **** **** 1111" || result.Payment.ExpiryYear != "2030" {
		t.Fatalf("payment fields must survive ledger failure, got %+v", result.Payment)
	}
	if result.ProcessingStatus != enums.ProcessingStatusPartial {
		t.Fatalf("expected partial, got %s", result.ProcessingStatus)
	}
	if !strings.Contains(result.Blockchain.Error, "execution reverted") {
		t.Fatalf("expected ledger reason recorded, got %q", result.Blockchain.Error)
	}
	if env.events(t, enums.EventCertificateAnchorFailed) != 1 {
		t.Fatal("expected anchor failed event")
	}
}

func TestConfirmPaymentAndAnchorLedgerTimeout(t *testing.T) {
	env := newTestEnv(t, func(p *ServiceParams) { p.Settings.ConfirmTimeout = 20 * time.Millisecond })
	env.ledger.block = true
	env.seed(t, "CERT-008", nil)

	result, err := env.service.ConfirmPaymentAndAnchor(context.Background(), paymentFor("CERT-008"))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.ProcessingStatus != enums.ProcessingStatusPartial || !strings.Contains(result.Blockchain.Error, "timed out") {
		t.Fatalf("expected timed out partial, got %+v", result.Blockchain)
	}
}

func TestQueryLedgerStatusReportsMatch(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "CERT-009", nil)
	ctx := context.Background()

	if _, err := env.service.ConfirmPaymentAndAnchor(ctx, paymentFor("CERT-009")); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	status, err := env.service.QueryLedgerStatus(ctx, "CERT-009")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !status.ExistsOnLedger || !status.HashesMatch || status.LedgerContentID != "Qdoc" {
		t.Fatalf("expected matching binding, got %+v", status)
	}

	stored := env.load(t, "CERT-009")
	stored.IPFSHash = "Qtampered"
	if err := env.repo.Save(ctx, stored); err != nil {
		t.Fatalf("save: %v", err)
	}
	status, err = env.service.QueryLedgerStatus(ctx, "CERT-009")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status.HashesMatch {
		t.Fatalf("expected mismatch after tampering, got %+v", status)
	}
}

func TestVerifyByIdentifierCountsAccess(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "CERT-010", nil)
	ctx := context.Background()

	preview, err := env.service.VerifyByIdentifier(ctx, "CERT-010")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if preview.StudentName != "Ada Lovelace" || preview.Verified {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if _, err := env.service.VerifyByIdentifier(ctx, "CERT-010"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if stored := env.load(t, "CERT-010"); stored.AccessCount != 2 || stored.LastAccessDate == nil {
		t.Fatalf("expected two recorded accesses, got %d", stored.AccessCount)
	}
}

func TestResumeStuckContinuesAfterPayment(t *testing.T) {
	env := newTestEnv(t)
	paidAt := fixedNow.Add(-time.Hour)
	env.seed(t, "CERT-011", func(c *models.Certificate) {
		c.ProcessingStatus = enums.ProcessingStatusProcessing
		c.ProcessingStartedAt = &paidAt
		c.Verified = true
		c.PaymentDate = &paidAt
		c.PaymentCardMasked = "**** **** **** 4242"
	})

	result, err := env.service.ResumeStuck(context.Background(), "CERT-011")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.ProcessingStatus != enums.ProcessingStatusCompleted || result.Payment.CardNumber != "**** **** **** 4242" {
		t.Fatalf("expected completed resume keeping payment, got %+v", result.Detail)
	}
}

func TestResumeStuckFailsUnpaidRecord(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "CERT-012", func(c *models.Certificate) {
		c.ProcessingStatus = enums.ProcessingStatusProcessing
	})

	_, err := env.service.ResumeStuck(context.Background(), "CERT-012")
	if !pkgerrors.IsCode(err, pkgerrors.CodePaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	stored := env.load(t, "CERT-012")
	if stored.ProcessingStatus != enums.ProcessingStatusFailed || stored.ProcessingError != reasonInterrupted {
		t.Fatalf("unexpected state %s %q", stored.ProcessingStatus, stored.ProcessingError)
	}

	env.seed(t, "CERT-013", nil)
	if _, err := env.service.ResumeStuck(context.Background(), "CERT-013"); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for idle record, got %v", err)
	}
}

func TestRetryAnchor(t *testing.T) {
	partial := func(c *models.Certificate) {
		c.ProcessingStatus = enums.ProcessingStatusPartial
		c.Verified = true
		c.IPFSHash = "Qdoc"
		c.PDFIPFSHash = "Qdoc"
		c.IPFSUploadStatus = enums.IPFSUploadStatusSuccess
		c.BlockchainError = "anchor failed: rpc down"
	}

	t.Run("anchors when ledger is empty", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "CERT-020", partial)

		result, err := env.service.RetryAnchor(context.Background(), "CERT-020")
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if result.ProcessingStatus != enums.ProcessingStatusCompleted || result.Blockchain.Error != "" {
			t.Fatalf("expected completed, got %+v", result.Blockchain)
		}
		if env.ledger.anchorCalls != 1 || env.events(t, enums.EventCertificateVerified) != 0 {
			t.Fatal("expected one anchor and no repeated verified event")
		}
	})

	t.Run("reconciles existing binding", func(t *testing.T) {
		env := newTestEnv(t)
		cert := env.seed(t, "CERT-021", partial)
		env.ledger.bindings[cert.ID.String()] = "Qdoc"

		result, err := env.service.RetryAnchor(context.Background(), "CERT-021")
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if !result.Blockchain.BlockchainVerified || env.ledger.anchorCalls != 0 {
			t.Fatalf("expected reconcile without anchoring, got %d calls", env.ledger.anchorCalls)
		}
		if env.events(t, enums.EventCertificateAnchored) != 1 {
			t.Fatal("expected anchored event")
		}
	})

	t.Run("keeps partial on conflicting binding", func(t *testing.T) {
		env := newTestEnv(t)
		cert := env.seed(t, "CERT-022", partial)
		env.ledger.bindings[cert.ID.String()] = "Qother"

		result, err := env.service.RetryAnchor(context.Background(), "CERT-022")
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if result.ProcessingStatus != enums.ProcessingStatusPartial || !strings.Contains(result.Blockchain.Error, "Qother") {
			t.Fatalf("expected partial with conflict reason, got %+v", result.Blockchain)
		}
	})

	t.Run("rejects non-partial record", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "CERT-023", nil)
		if _, err := env.service.RetryAnchor(context.Background(), "CERT-023"); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			t.Fatalf("expected state conflict, got %v", err)
		}
	})
}

func TestConfirmPaymentAndAnchorAcceptsFourCharacterCard(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "CERT-005", nil)

	input := paymentFor("CERT-005")
	input.CardNumber = "42-42"
	result, err := env.service.ConfirmPaymentAndAnchor(context.Background(), input)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !result.Verified || result.Payment.CardNumber != "**** **** **** 4242" {
		t.Fatalf("unexpected payment view %+v", result.Payment)
	}
	if stored := env.load(t, "CERT-005"); stored.PaymentCardMasked != "**** **** **** 4242" {
		t.Fatalf("expected stored mask, got %q", stored.PaymentCardMasked)
	}
}

func TestUploadReleasesPinsWhenCheckpointFails(t *testing.T) {
	env := newTestEnv(t, func(p *ServiceParams) {
		p.Repo = saveFailingRepo{Repository: p.Repo, err: errors.New("connection reset")}
	})
	env.seed(t, "CERT-006", func(c *models.Certificate) {
		c.Verified = true
		c.ProcessingStatus = enums.ProcessingStatusProcessing
	})

	_, err := env.service.ResumeStuck(context.Background(), "CERT-006")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	env.uploader.mu.Lock()
	unpinned := append([]string(nil), env.uploader.unpinned...)
	env.uploader.mu.Unlock()
	if len(unpinned) != 2 {
		t.Fatalf("expected both pins released, got %v", unpinned)
	}
	if stored := env.load(t, "CERT-006"); stored.HasContent() {
		t.Fatalf("content ids must not be recorded, got %q", stored.PrimaryCID())
	}
	if env.ledger.anchorCalls != 0 {
		t.Fatal("ledger must not be called without recorded content")
	}
}

func TestMaskCardNumber(t *testing.T) {
	cases := map[string]string{
		"4111111111111111":    "**** **** **** 1111",
		"4111-1111 1111-4242": "**** **** **** 4242",
		"123":                 "",
		"1 2 3":               "",
	}
	for in, want := range cases {
		if got := MaskCardNumber(in); got != want {
			t.Fatalf("MaskCardNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHashesMatch(t *testing.T) {
	if !HashesMatch(true, "Qdoc", "Qdoc") {
		t.Fatal("identical ids must match")
	}
	if HashesMatch(false, "Qdoc", "Qdoc") || HashesMatch(true, "", "") || HashesMatch(true, "Qdoc", "Qimg") {
		t.Fatal("absent, empty or different bindings must not match")
	}
}
