package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Publisher fans committed transitions out to a Pub/Sub topic so downstream
// consumers (alerting, dashboards) learn about stage changes without polling
// the audit log.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
	logger    zerolog.Logger
}

// PublisherConfig holds configuration for the transition publisher.
type PublisherConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// NewPublisher creates a new transition event publisher.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &Publisher{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		topicName: cfg.TopicName,
		logger:    cfg.Logger,
	}, nil
}

// Publish sends a transition record to the topic. Failures are logged, not
// returned: the audit log is the durable record, the topic is a convenience.
func (p *Publisher) Publish(ctx context.Context, rec *TransitionRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error().Err(err).Str("flag", rec.FlagID).Msg("failed to encode transition event")
		return
	}

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"flag_id":  rec.FlagID,
			"to_stage": string(rec.ToStage),
			"cause":    string(rec.Cause),
		},
	})

	if _, err := result.Get(ctx); err != nil {
		p.logger.Warn().Err(err).
			Str("flag", rec.FlagID).
			Str("topic", p.topicName).
			Msg("failed to publish transition event")
		return
	}

	p.logger.Debug().
		Str("flag", rec.FlagID).
		Str("to_stage", string(rec.ToStage)).
		Msg("transition event published")
}

// Close releases the underlying Pub/Sub client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
