package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/originhash-backend/internal/verification"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

const (
	stuckVerificationJobName = "stuck_verification_resume"
	anchorRetryJobName       = "ledger_anchor_retry"

	defaultBatchSize  = 25
	defaultStuckAfter = 10 * time.Minute
)

type certificateScanner interface {
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]models.Certificate, error)
	ListPartial(ctx context.Context, limit int) ([]models.Certificate, error)
}

type recoveryService interface {
	ResumeStuck(ctx context.Context, uniqueID string) (*verification.Result, error)
	RetryAnchor(ctx context.Context, uniqueID string) (*verification.Result, error)
}

// RecoveryJobParams configure the verification recovery jobs.
type RecoveryJobParams struct {
	Logger       *logger.Logger
	Certificates certificateScanner
	Verification recoveryService
	BatchSize    int
	StuckAfter   time.Duration
}

type recoveryJob struct {
	logg       *logger.Logger
	certs      certificateScanner
	verify     recoveryService
	batchSize  int
	stuckAfter time.Duration
	now        func() time.Time
}

func newRecoveryJob(params RecoveryJobParams) (recoveryJob, error) {
	if params.Logger == nil {
		return recoveryJob{}, fmt.Errorf("logger required")
	}
	if params.Certificates == nil {
		return recoveryJob{}, fmt.Errorf("certificate repository required")
	}
	if params.Verification == nil {
		return recoveryJob{}, fmt.Errorf("verification service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	stuckAfter := params.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	return recoveryJob{
		logg:       params.Logger,
		certs:      params.Certificates,
		verify:     params.Verification,
		batchSize:  batch,
		stuckAfter: stuckAfter,
		now:        time.Now,
	}, nil
}

// each applies fn to every certificate, collecting failures. State conflicts
// mean another worker or request got there first and are not failures.
func (j recoveryJob) each(ctx context.Context, certs []models.Certificate, fn func(context.Context, string) (*verification.Result, error)) (int, error) {
	var (
		errs      error
		recovered int
	)
	for _, cert := range certs {
		if ctx.Err() != nil {
			return recovered, multierr.Append(errs, ctx.Err())
		}
		certCtx := j.logg.WithCertificate(ctx, cert.UniqueID)
		result, err := fn(certCtx, cert.UniqueID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				j.logg.Debug(certCtx, "certificate claimed elsewhere; skipping")
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", cert.UniqueID, err))
			continue
		}
		if result != nil && result.Blockchain.BlockchainVerified {
			recovered++
		}
	}
	return recovered, errs
}

// NewStuckVerificationJob resumes runs left in processing longer than StuckAfter.
func NewStuckVerificationJob(params RecoveryJobParams) (Job, error) {
	base, err := newRecoveryJob(params)
	if err != nil {
		return nil, err
	}
	return &stuckVerificationJob{recoveryJob: base}, nil
}

type stuckVerificationJob struct {
	recoveryJob
}

func (j *stuckVerificationJob) Name() string { return stuckVerificationJobName }

func (j *stuckVerificationJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.stuckAfter)
	certs, err := j.certs.ListStuck(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stuck certificates: %w", err)
	}
	anchored, err := j.each(ctx, certs, j.verify.ResumeStuck)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"found":    len(certs),
		"anchored": anchored,
	}), "stuck verification sweep complete")
	return err
}

// NewAnchorRetryJob retries ledger anchoring for partial certificates.
func NewAnchorRetryJob(params RecoveryJobParams) (Job, error) {
	base, err := newRecoveryJob(params)
	if err != nil {
		return nil, err
	}
	return &anchorRetryJob{recoveryJob: base}, nil
}

type anchorRetryJob struct {
	recoveryJob
}

func (j *anchorRetryJob) Name() string { return anchorRetryJobName }

func (j *anchorRetryJob) Run(ctx context.Context) error {
	certs, err := j.certs.ListPartial(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("list partial certificates: %w", err)
	}
	anchored, err := j.each(ctx, certs, j.verify.RetryAnchor)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"found":    len(certs),
		"anchored": anchored,
	}), "ledger anchor retry sweep complete")
	return err
}
