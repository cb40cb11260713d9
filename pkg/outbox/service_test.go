package outbox_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/originhash-backend/pkg/db/dbtest"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelopeWithSubject(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)

	certID := uuid.New()
	occurred := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	err := svc.Emit(context.Background(), conn, outbox.DomainEvent{
		EventType:     enums.EventCertificateVerified,
		AggregateType: enums.AggregateCertificate,
		AggregateID:   certID,
		Subject:       "CERT-2026-0001",
		Data:          payloads.CertificateVerifiedEvent{CertificateID: certID, UniqueID: "CERT-2026-0001"},
		OccurredAt:    occurred,
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, certID, row.AggregateID)
	assert.Equal(t, enums.EventCertificateVerified, row.EventType)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.Equal(t, "CERT-2026-0001", envelope.Subject)
	assert.Equal(t, enums.EventCertificateVerified, envelope.EventType)
	assert.True(t, envelope.OccurredAt.Equal(occurred))
	assert.NotEmpty(t, envelope.EventID)

	var data payloads.CertificateVerifiedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "CERT-2026-0001", data.UniqueID)
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)

	err := svc.Emit(context.Background(), conn, outbox.DomainEvent{
		EventType:     enums.OutboxEventType("certificate_deleted"),
		AggregateType: enums.AggregateCertificate,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)

	err = svc.Emit(context.Background(), nil, outbox.DomainEvent{EventType: enums.EventCertificateIssued})
	require.Error(t, err)
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)

	event := outbox.DomainEvent{
		EventType:     enums.EventCertificateAnchored,
		AggregateType: enums.AggregateCertificate,
		AggregateID:   uuid.New(),
		Subject:       "CERT-ANCHOR",
		Data:          map[string]string{"txHash": "0xabc"},
	}
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDLQRepositoryTruncatesAndStamps(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewDLQRepository(conn)

	long := strings.Repeat("x", 2048)
	eventID := uuid.New()
	require.NoError(t, repo.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventCertificateAnchorFailed,
		AggregateType: enums.AggregateCertificate,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &long,
	}))

	entry, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.FailedAt.IsZero())
	require.NotNil(t, entry.ErrorMessage)
	assert.Len(t, *entry.ErrorMessage, 1024)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
