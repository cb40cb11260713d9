package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/outbox/registry"
)

const testTopic = "certificate-events"

func TestRelayBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		certificateEvent(t, enums.EventCertificateVerified, 0),
		certificateEvent(t, enums.EventCertificateVerified, 0),
	}}
	pub := &fakePublisher{errs: []error{errors.New("transient")}}
	dlq := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, &fakeTopics{topics: map[string]*fakePublisher{testTopic: pub}}, resolvingRegistry(), dlq, config.OutboxConfig{})

	handled, err := relay.relayBatch(context.Background())
	if err != nil {
		t.Fatalf("relay batch returned error: %v", err)
	}
	if handled != 2 {
		t.Fatalf("expected two events handled, got %d", handled)
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("expected second event marked published, got %v", repo.published)
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("transient failure must not dead letter, got %d entries", len(dlq.entries))
	}
}

func TestRelayBatchEmptyOutbox(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakeTopics{}, resolvingRegistry(), &fakeDLQRepo{}, config.OutboxConfig{})

	handled, err := relay.relayBatch(context.Background())
	if err != nil || handled != 0 {
		t.Fatalf("expected empty batch, got %d, %v", handled, err)
	}
}

func TestCertificateMessageOrderedByUniqueID(t *testing.T) {
	event := certificateEvent(t, enums.EventCertificateAnchored, 0)
	event.CreatedAt = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	pub := &fakePublisher{}
	relay := newTestRelay(t, &fakeRepo{events: []models.OutboxEvent{event}}, &fakeTopics{topics: map[string]*fakePublisher{testTopic: pub}}, resolvingRegistry(), &fakeDLQRepo{}, config.OutboxConfig{})

	if _, err := relay.relayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch returned error: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	wantUniqueID := "CERT-" + event.AggregateID.String()[:8]
	for key, want := range map[string]string{
		"event_type":   string(enums.EventCertificateAnchored),
		"aggregate_id": event.AggregateID.String(),
		"event_id":     event.ID.String(),
		"unique_id":    wantUniqueID,
		"created_at":   "2026-01-05T12:00:00Z",
	} {
		if got := msg.Attributes[key]; got != want {
			t.Fatalf("attribute %s = %q, want %q", key, got, want)
		}
	}
	if msg.OrderingKey != wantUniqueID {
		t.Fatalf("expected ordering key %q, got %q", wantUniqueID, msg.OrderingKey)
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatal("expected raw outbox payload as message data")
	}
}

func TestCertificateMessageWithoutSubjectIsUnordered(t *testing.T) {
	event := certificateEvent(t, enums.EventCertificateIssued, 0)
	msg := certificateMessage(event, &registry.ResolvedEvent{})

	if msg.OrderingKey != "" {
		t.Fatalf("expected no ordering key, got %q", msg.OrderingKey)
	}
	if _, ok := msg.Attributes["unique_id"]; ok {
		t.Fatal("expected no unique_id attribute")
	}
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	b := newRetryBackoff(time.Second)
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
		if last > maxBackoff+maxBackoff/4 {
			t.Fatalf("backoff %v exceeded cap", last)
		}
	}
	if last < maxBackoff-maxBackoff/4 {
		t.Fatalf("expected backoff to reach the cap, got %v", last)
	}
	b.Reset()
	if first := b.NextBackOff(); first > time.Second+time.Second/4 {
		t.Fatalf("expected reset to restart near base, got %v", first)
	}
}

func TestRelayBatchDeadLetters(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		registry registryResolver
		topics   *fakeTopics
		reason   enums.OutboxDLQErrorReason
	}{
		{
			name:     "undecodable payload",
			registry: &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))},
			topics:   &fakeTopics{},
			reason:   enums.OutboxDLQReasonNonRetryable,
		},
		{
			name:     "unknown topic",
			registry: resolvingRegistry(),
			topics:   &fakeTopics{},
			reason:   enums.OutboxDLQReasonNonRetryable,
		},
		{
			name:     "attempts exhausted",
			attempts: 1,
			registry: resolvingRegistry(),
			topics:   &fakeTopics{topics: map[string]*fakePublisher{testTopic: {errs: []error{errors.New("transient")}}}},
			reason:   enums.OutboxDLQReasonMaxAttempts,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event := certificateEvent(t, enums.EventCertificateVerified, tc.attempts)
			repo := &fakeRepo{events: []models.OutboxEvent{event}}
			dlq := &fakeDLQRepo{}
			relay := newTestRelay(t, repo, tc.topics, tc.registry, dlq, config.OutboxConfig{MaxAttempts: 2})

			if _, err := relay.relayBatch(context.Background()); err != nil {
				t.Fatalf("relay batch returned error: %v", err)
			}
			if len(dlq.entries) != 1 {
				t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
			}
			entry := dlq.entries[0]
			if entry.EventID != event.ID || entry.ErrorReason != tc.reason {
				t.Fatalf("unexpected dlq entry %s / %s", entry.EventID, entry.ErrorReason)
			}
			if !bytes.Equal(entry.Payload, event.Payload) {
				t.Fatal("dlq payload mismatch")
			}
			if entry.ErrorMessage == nil || *entry.ErrorMessage == "" {
				t.Fatal("expected dlq error message")
			}
			if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
				t.Fatalf("expected event marked terminal, got %v", repo.terminal)
			}
		})
	}
}

func TestNewRelayReportsMissingDependencies(t *testing.T) {
	_, err := NewRelay(RelayParams{Logger: testLogger()})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"database", "topics", "repository", "registry", "dlq"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %q in %q", name, err.Error())
		}
	}
	if strings.Contains(err.Error(), "logger") {
		t.Fatalf("logger was provided: %q", err.Error())
	}
}

func TestNewRelayAppliesDefaults(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakeTopics{}, resolvingRegistry(), &fakeDLQRepo{}, config.OutboxConfig{BatchSize: -1})

	if relay.batchSize != defaultBatchSize || relay.maxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected defaults batch=%d attempts=%d", relay.batchSize, relay.maxAttempts)
	}
	if relay.pollInterval != defaultPollMs*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", relay.pollInterval)
	}
}

func TestRunStopsTopicsOnCancel(t *testing.T) {
	topics := &fakeTopics{}
	relay := newTestRelay(t, &fakeRepo{}, topics, resolvingRegistry(), &fakeDLQRepo{}, config.OutboxConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := relay.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if !topics.stopped {
		t.Fatal("expected topics to be stopped")
	}
}

func TestRunFailsWhenPubSubUnreachable(t *testing.T) {
	topics := &fakeTopics{pingErr: errors.New("unavailable")}
	relay := newTestRelay(t, &fakeRepo{}, topics, resolvingRegistry(), &fakeDLQRepo{}, config.OutboxConfig{})

	err := relay.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "pubsub ping failed") {
		t.Fatalf("expected pubsub ping error, got %v", err)
	}
	if topics.stopped {
		t.Fatal("topics stopped before they were started")
	}
}

func TestPubSubTopicsUnknownTopic(t *testing.T) {
	topics := newPubSubTopics(nilPublisherClient{})

	if topics.Topic(testTopic) != nil {
		t.Fatal("expected nil publisher for unresolvable topic")
	}
	if len(topics.publishers) != 0 {
		t.Fatal("unresolvable topic must not be cached")
	}
	topics.Stop()
}

func newTestRelay(t *testing.T, repo outboxRepository, topics topicSet, resolver registryResolver, dlq dlqRepository, cfg config.OutboxConfig) *Relay {
	t.Helper()
	if cfg == (config.OutboxConfig{}) {
		cfg = config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	}
	relay, err := NewRelay(RelayParams{
		Outbox:     cfg,
		Logger:     testLogger(),
		DB:         &fakeDB{},
		Topics:     topics,
		Repository: repo,
		Registry:   resolver,
		DLQ:        dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct relay: %v", err)
	}
	return relay
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard})
}

func certificateEvent(tb testing.TB, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateCertificate,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

func resolvingRegistry() *fakeRegistry {
	return &fakeRegistry{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: testTopic, AggregateType: enums.AggregateCertificate},
	}}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakeTopics struct {
	topics  map[string]*fakePublisher
	pingErr error
	stopped bool
}

func (f *fakeTopics) Ping(context.Context) error { return f.pingErr }

func (f *fakeTopics) Topic(name string) topicPublisher {
	if p, ok := f.topics[name]; ok {
		return p
	}
	return nil
}

func (f *fakeTopics) Stop() { f.stopped = true }

type fakePublisher struct {
	errs []error
	sent []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) error {
	f.sent = append(f.sent, msg)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type nilPublisherClient struct{}

func (nilPublisherClient) Ping(context.Context) error { return nil }

func (nilPublisherClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.Subject = "CERT-" + event.AggregateID.String()[:8]
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
