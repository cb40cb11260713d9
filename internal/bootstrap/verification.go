// Package bootstrap builds the certificate and verification services shared by the API and the cron worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/originhash-backend/internal/certificates"
	"github.com/angelmondragon/originhash-backend/internal/verification"
	"github.com/angelmondragon/originhash-backend/pkg/artifacts"
	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/db"
	"github.com/angelmondragon/originhash-backend/pkg/ipfs"
	"github.com/angelmondragon/originhash-backend/pkg/ledger/drivers"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/metrics"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/redis"
	"github.com/angelmondragon/originhash-backend/pkg/storage"
)

// Services is the wired certificate domain.
type Services struct {
	Certificates    certificates.Service
	CertificateRepo certificates.Repository
	Verification    verification.Service
	Storage         storage.Store
	Ledger          drivers.Conn
	closeFns        []func() error
}

// Close releases ledger and storage connections.
func (s *Services) Close() error {
	var firstErr error
	for i := len(s.closeFns) - 1; i >= 0; i-- {
		if err := s.closeFns[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build connects the artifact store, content store and ledger, then constructs both services.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	out := &Services{}

	store, err := storage.New(ctx, cfg.Storage, logg)
	if err != nil {
		return nil, fmt.Errorf("artifact storage: %w", err)
	}
	out.Storage = store
	if closer, ok := store.(interface{ Close() error }); ok {
		out.closeFns = append(out.closeFns, closer.Close)
	}

	uploader, err := ipfs.NewClient(cfg.IPFS, logg)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("ipfs client: %w", err)
	}

	ledgerConn, err := drivers.Open(ctx, cfg.Ledger, logg)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("ledger client: %w", err)
	}
	out.Ledger = ledgerConn
	out.closeFns = append(out.closeFns, ledgerConn.Close)

	repo := certificates.NewRepository(dbClient.DB())
	out.CertificateRepo = repo
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	out.Certificates, err = certificates.NewService(certificates.ServiceParams{
		Repo:      repo,
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Storage:   store,
		Generator: artifacts.NewRenderer(),
		Logger:    logg,
	})
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("certificate service: %w", err)
	}

	settings, err := verification.SettingsFromConfig(cfg)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("verification settings: %w", err)
	}

	var locker verification.Locker
	if redisClient != nil {
		redisLocker, err := verification.NewRedisLocker(redisClient, cfg.Verification.LockTTL, logg)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("verification locker: %w", err)
		}
		locker = redisLocker
	}

	out.Verification, err = verification.NewService(verification.ServiceParams{
		Repo:     repo,
		Tx:       dbClient,
		Storage:  store,
		Uploader: uploader,
		Ledger:   ledgerConn,
		Payments: verification.SimulatedProcessor{},
		Locker:   locker,
		Outbox:   outboxSvc,
		Metrics:  metrics.NewVerificationMetrics(reg),
		Settings: settings,
		Logger:   logg,
	})
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("verification service: %w", err)
	}

	return out, nil
}
