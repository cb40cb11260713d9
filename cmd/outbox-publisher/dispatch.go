package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	"github.com/angelmondragon/originhash-backend/pkg/outbox/registry"
)

const publishTimeout = 15 * time.Second

var errNoTopic = errors.New("no publisher for topic")

// delivery is what happened to one outbox row on this pass.
type delivery struct {
	topic    string
	uniqueID string
	err      error
	// deadLetter is set when the row must leave the queue.
	deadLetter enums.OutboxDLQErrorReason
}

// deliver resolves event and publishes it. It never touches the database.
func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return delivery{err: err, deadLetter: enums.OutboxDLQReasonNonRetryable}
	}

	d := delivery{topic: resolved.Descriptor.Topic, uniqueID: resolved.Envelope.Subject}
	d.err = r.publish(ctx, event, resolved)
	switch {
	case d.err == nil:
	case errors.As(d.err, new(registry.NonRetryableError)):
		d.deadLetter = enums.OutboxDLQReasonNonRetryable
	case event.AttemptCount+1 >= r.maxAttempts:
		d.err = fmt.Errorf("max publish attempts reached: %w", d.err)
		d.deadLetter = enums.OutboxDLQReasonMaxAttempts
	}
	return d
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	pub := r.topics.Topic(resolved.Descriptor.Topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("%w %s", errNoTopic, resolved.Descriptor.Topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return pub.Publish(publishCtx, certificateMessage(event, resolved))
}

// certificateMessage carries the raw outbox payload. Messages for one
// certificate share an ordering key so consumers see its events in order.
func certificateMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	if uniqueID := resolved.Envelope.Subject; uniqueID != "" {
		msg.Attributes["unique_id"] = uniqueID
		msg.OrderingKey = uniqueID
	}
	return msg
}

// settle records d against the locked row.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	})
	if d.topic != "" {
		ctx = r.logg.WithField(ctx, "topic", d.topic)
	}
	if d.uniqueID != "" {
		ctx = r.logg.WithCertificate(ctx, d.uniqueID)
	}

	switch {
	case d.err == nil:
		if err := r.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(ctx, "certificate event published")
	case d.deadLetter != "":
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"error_reason": d.deadLetter,
			"error":        d.err.Error(),
		}), "certificate event moved to dead letter")
		if err := r.dlq.InsertTx(tx, deadLetterEntry(event, d)); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := r.repo.MarkTerminalTx(tx, event.ID, d.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	default:
		r.logg.Warn(r.logg.WithField(ctx, "error", d.err.Error()), "certificate event publish failed")
		if err := r.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	}
	return nil
}

func deadLetterEntry(event models.OutboxEvent, d delivery) models.OutboxDLQ {
	msg := d.err.Error()
	return models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   d.deadLetter,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
}
