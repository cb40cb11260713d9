package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 500
	defaultMaxAttempts = 10
	maxBackoff         = 10 * time.Second
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// RelayParams wires the certificate event relay.
type RelayParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	Topics     topicSet
	Repository outboxRepository
	Registry   registryResolver
	DLQ        dlqRepository
}

// Relay moves committed certificate events from outbox_events to their
// Pub/Sub topics.
type Relay struct {
	logg         *logger.Logger
	db           dbClient
	topics       topicSet
	repo         outboxRepository
	registry     registryResolver
	dlq          dlqRepository
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	var missing []string
	for _, dep := range []struct {
		name string
		set  bool
	}{
		{"logger", params.Logger != nil},
		{"database", params.DB != nil},
		{"topics", params.Topics != nil},
		{"repository", params.Repository != nil},
		{"registry", params.Registry != nil},
		{"dlq", params.DLQ != nil},
	} {
		if !dep.set {
			missing = append(missing, dep.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("relay dependencies missing: %s", strings.Join(missing, ", "))
	}

	return &Relay{
		logg:         params.Logger,
		db:           params.DB,
		topics:       params.Topics,
		repo:         params.Repository,
		registry:     params.Registry,
		dlq:          params.DLQ,
		batchSize:    positiveOr(params.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(params.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(params.Outbox.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

// Run drains the outbox until ctx is canceled. Empty polls wait one poll
// interval; failed batches back off exponentially up to maxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.topics.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	defer r.topics.Stop()

	retry := newRetryBackoff(r.pollInterval)
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "certificate event relay stopping")
			return err
		}

		wait := r.pollInterval
		drained, err := r.relayBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "certificate event batch failed", err)
			wait = retry.NextBackOff()
		case drained > 0:
			retry.Reset()
			continue
		default:
			retry.Reset()
		}

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// relayBatch locks one batch of pending events and settles each of them in
// the same transaction. It returns how many events it handled.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := r.settle(ctx, tx, event, r.deliver(ctx, event)); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

func newRetryBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = maxBackoff
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
