package queue

import (
	"context"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// rabbitClient is the part of shared/rabbitmq.Client the publisher uses
type rabbitClient interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType, messageID string) error
}

// RabbitPublisher publishes job messages to the configured exchange. The
// AMQP message id is the job id.
type RabbitPublisher struct {
	client rabbitClient
}

// NewRabbitPublisher creates a publisher over a connected client
func NewRabbitPublisher(client rabbitClient) *RabbitPublisher {
	return &RabbitPublisher{client: client}
}

// Publish sends msg, retrying transient broker errors
func (p *RabbitPublisher) Publish(ctx context.Context, msg *domain.JobMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return p.client.PublishWithRetry(ctx, body, ContentType, msg.JobID)
}
