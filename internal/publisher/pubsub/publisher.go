// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Attributer lets a payload attach Pub/Sub message attributes.
type Attributer interface {
	PubSubAttributes() map[string]string
}

type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	send   sendFunc
}

// New creates a Publisher for an existing topic handle.
func New(topic *pubsub.Topic) *Publisher {
	p := &Publisher{topic: topic}
	if topic != nil {
		p.send = func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		}
	}
	return p
}

// Dial connects to projectID and returns a Publisher for topicID. Close releases the client.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub: project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	p := New(client.Topic(topicID))
	p.client = client
	return p, nil
}

// Publish marshals the payload to JSON and publishes it to the topic.
// The topic argument is recorded as an attribute; the destination is fixed at construction.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.send == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"content_type": "application/json"}}
	if topic != "" {
		msg.Attributes["event"] = topic
	}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.PubSubAttributes() {
			msg.Attributes[k] = v
		}
	}

	id, err := p.send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client when Dial created it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
