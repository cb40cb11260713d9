// Package verification runs the pay, pin, anchor and reconcile pipeline for issued certificates.
package verification

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/internal/certificates"
	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/ipfs"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/metrics"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/storage"
)

const (
	defaultConfirmTimeout = 120 * time.Second
	defaultQueryTimeout   = 15 * time.Second
	minCardLength         = 4
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the verification orchestrator.
type Service interface {
	VerifyByIdentifier(ctx context.Context, uniqueID string) (*certificates.Preview, error)
	ConfirmPaymentAndAnchor(ctx context.Context, input PaymentInput) (*Result, error)
	QueryLedgerStatus(ctx context.Context, uniqueID string) (*LedgerStatus, error)
	ResumeStuck(ctx context.Context, uniqueID string) (*Result, error)
	RetryAnchor(ctx context.Context, uniqueID string) (*Result, error)
}

// Settings are the tunables read from configuration.
type Settings struct {
	Fee            decimal.Decimal
	Currency       string
	ConfirmTimeout time.Duration
	QueryTimeout   time.Duration
}

// SettingsFromConfig derives Settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config required")
	}
	fee, err := cfg.Verification.FeeAmount()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Fee:            fee,
		Currency:       strings.ToUpper(strings.TrimSpace(cfg.Verification.Currency)),
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
		QueryTimeout:   cfg.Ledger.QueryTimeout,
	}, nil
}

type ServiceParams struct {
	Repo     certificates.Repository
	Tx       txRunner
	Storage  storage.Store
	Uploader ipfs.Uploader
	Ledger   ledger.Client
	Payments PaymentProcessor
	// Locker is optional; without it the conditional claim is the only guard.
	Locker   Locker
	Outbox   outboxPublisher
	Metrics  *metrics.VerificationMetrics
	Settings Settings
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     certificates.Repository
	tx       txRunner
	storage  storage.Store
	uploader ipfs.Uploader
	ledger   ledger.Client
	payments PaymentProcessor
	locker   Locker
	outbox   outboxPublisher
	metrics  *metrics.VerificationMetrics
	settings Settings
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("certificate repository required")
	case params.Tx == nil:
		return nil, errors.New("transaction runner required")
	case params.Storage == nil:
		return nil, errors.New("artifact storage required")
	case params.Uploader == nil:
		return nil, errors.New("content uploader required")
	case params.Ledger == nil:
		return nil, errors.New("ledger client required")
	case params.Payments == nil:
		return nil, errors.New("payment processor required")
	case params.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}

	settings := params.Settings
	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = defaultConfirmTimeout
	}
	if settings.QueryTimeout <= 0 {
		settings.QueryTimeout = defaultQueryTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		storage:  params.Storage,
		uploader: params.Uploader,
		ledger:   params.Ledger,
		payments: params.Payments,
		locker:   params.Locker,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		settings: settings,
		logg:     params.Logger,
		now:      func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) VerifyByIdentifier(ctx context.Context, uniqueID string) (*certificates.Preview, error) {
	cert, err := s.load(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCertificate(ctx, cert.UniqueID)
	if err := s.repo.IncrementAccess(ctx, cert.ID, s.now()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to record certificate access")
	}
	preview := certificates.ToPreview(*cert)
	return &preview, nil
}

func (s *service) ConfirmPaymentAndAnchor(ctx context.Context, input PaymentInput) (*Result, error) {
	card := NormalizeCardNumber(input.CardNumber)
	if utf8.RuneCountInString(card) < minCardLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cardNumber must contain at least 4 characters").
			WithDetails(map[string]any{"field": "cardNumber"})
	}
	input.CardNumber = card

	cert, err := s.load(ctx, input.UniqueID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCertificate(ctx, cert.UniqueID)

	if cert.ProcessingStatus.IsSettled() {
		s.logg.Info(ctx, "verification replayed for settled certificate")
		return &Result{Detail: certificates.ToPublic(*cert), Replayed: true}, nil
	}
	if cert.ProcessingStatus == enums.ProcessingStatusProcessing {
		return nil, stateConflict(cert)
	}

	unlock, err := s.lock(ctx, cert)
	if err != nil {
		return nil, err
	}
	defer unlock(context.WithoutCancel(ctx))

	claimed, err := s.repo.Claim(ctx, cert.ID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim certificate")
	}
	if !claimed {
		return nil, stateConflict(cert)
	}
	if cert, err = s.reload(ctx, cert); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "card_masked", MaskCardNumber(card)), "verification started")
	if err := s.run(ctx, cert, &input); err != nil {
		return nil, err
	}
	return &Result{Detail: certificates.ToPublic(*cert)}, nil
}

func (s *service) QueryLedgerStatus(ctx context.Context, uniqueID string) (*LedgerStatus, error) {
	cert, err := s.load(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	fingerprint := cert.LedgerFingerprint
	if fingerprint == "" {
		fingerprint = cert.Fingerprint()
	}

	status, err := s.queryLedger(ctx, fingerprint)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query ledger")
	}
	stored := cert.PrimaryCID()
	return &LedgerStatus{
		UniqueID:           cert.UniqueID,
		Fingerprint:        fingerprint,
		StoredContentID:    stored,
		LedgerContentID:    status.ContentID,
		ExistsOnLedger:     status.Exists,
		HashesMatch:        HashesMatch(status.Exists, stored, status.ContentID),
		BlockchainVerified: cert.BlockchainVerified,
		TxHash:             cert.BlockchainTxHash,
	}, nil
}

// ResumeStuck continues a run that was interrupted while processing.
func (s *service) ResumeStuck(ctx context.Context, uniqueID string) (*Result, error) {
	cert, err := s.load(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCertificate(ctx, cert.UniqueID)
	if cert.ProcessingStatus != enums.ProcessingStatusProcessing {
		return nil, ineligible(cert, enums.ProcessingStatusProcessing)
	}

	unlock, err := s.lock(ctx, cert)
	if err != nil {
		return nil, err
	}
	defer unlock(context.WithoutCancel(ctx))

	if cert, err = s.reload(ctx, cert); err != nil {
		return nil, err
	}
	if cert.ProcessingStatus != enums.ProcessingStatusProcessing {
		return nil, ineligible(cert, enums.ProcessingStatusProcessing)
	}

	s.logg.Info(ctx, "resuming interrupted verification")
	if err := s.run(ctx, cert, nil); err != nil {
		return nil, err
	}
	return &Result{Detail: certificates.ToPublic(*cert)}, nil
}

// RetryAnchor anchors a partial record, reconciling first against what the ledger already holds.
func (s *service) RetryAnchor(ctx context.Context, uniqueID string) (*Result, error) {
	cert, err := s.load(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCertificate(ctx, cert.UniqueID)
	if cert.ProcessingStatus != enums.ProcessingStatusPartial {
		return nil, ineligible(cert, enums.ProcessingStatusPartial)
	}

	unlock, err := s.lock(ctx, cert)
	if err != nil {
		return nil, err
	}
	defer unlock(context.WithoutCancel(ctx))

	if cert, err = s.reload(ctx, cert); err != nil {
		return nil, err
	}
	if cert.ProcessingStatus != enums.ProcessingStatusPartial {
		return nil, ineligible(cert, enums.ProcessingStatusPartial)
	}

	if err := s.retryAnchor(ctx, cert); err != nil {
		return nil, err
	}
	return &Result{Detail: certificates.ToPublic(*cert)}, nil
}

func (s *service) load(ctx context.Context, uniqueID string) (*models.Certificate, error) {
	id := strings.TrimSpace(uniqueID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "uniqueId is required").
			WithDetails(map[string]any{"field": "uniqueId"})
	}
	cert, err := s.repo.FindByUniqueID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	return cert, nil
}

func (s *service) reload(ctx context.Context, cert *models.Certificate) (*models.Certificate, error) {
	fresh, err := s.repo.FindByID(ctx, cert.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload certificate")
	}
	return fresh, nil
}

func (s *service) lock(ctx context.Context, cert *models.Certificate) (func(context.Context), error) {
	if s.locker == nil {
		return func(context.Context) {}, nil
	}
	unlock, acquired, err := s.locker.Lock(ctx, cert.UniqueID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire verification lock")
	}
	if !acquired {
		return nil, stateConflict(cert)
	}
	return unlock, nil
}

func stateConflict(cert *models.Certificate) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "certificate verification already in progress").
		WithDetails(map[string]any{
			"uniqueId":         cert.UniqueID,
			"processingStatus": cert.ProcessingStatus,
		})
}

func ineligible(cert *models.Certificate, want enums.ProcessingStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "certificate is not "+want.String()).
		WithDetails(map[string]any{
			"uniqueId":         cert.UniqueID,
			"processingStatus": cert.ProcessingStatus,
		})
}
