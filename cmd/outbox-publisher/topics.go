package main

import (
	"context"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type topicSet interface {
	Ping(context.Context) error
	// Topic returns nil when name cannot be resolved to a publisher.
	Topic(name string) topicPublisher
	// Stop flushes pending messages on every topic handed out so far.
	Stop()
}

type topicPublisher interface {
	// Publish blocks until the server acknowledges msg.
	Publish(context.Context, *gcppubsub.Message) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubSubTopics keeps one ordered publisher per topic for the life of the
// relay, so batching and ordering state survive across outbox polls.
type pubSubTopics struct {
	client pubSubClient

	mu         sync.Mutex
	publishers map[string]*orderedPublisher
}

func newPubSubTopics(client pubSubClient) *pubSubTopics {
	return &pubSubTopics{client: client, publishers: make(map[string]*orderedPublisher)}
}

func (t *pubSubTopics) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t *pubSubTopics) Topic(name string) topicPublisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.publishers[name]; ok {
		return p
	}
	pub := t.client.Publisher(name)
	if pub == nil {
		return nil
	}
	pub.EnableMessageOrdering = true
	p := &orderedPublisher{pub: pub}
	t.publishers[name] = p
	return p
}

func (t *pubSubTopics) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, p := range t.publishers {
		p.pub.Stop()
		delete(t.publishers, name)
	}
}

type orderedPublisher struct {
	pub *gcppubsub.Publisher
}

// Publish resumes a failed ordering key so the row can be retried on the next
// poll.
func (p *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) error {
	if _, err := p.pub.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.pub.ResumePublish(msg.OrderingKey)
		}
		return err
	}
	return nil
}
