// Package queue ships request stat events to SQS for downstream analytics
// consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"ztoapi/internal/stats"
)

type Publisher interface {
	Publish(ctx context.Context, ev stats.Event) error
}

type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSPublisher(ctx context.Context, region, queueURL string) (*SQSPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, ev stats.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stat event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Platform": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Platform),
			},
			"Model": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Model),
			},
		},
	}

	_, err = p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

// Record implements stats.Sink; publish failures are logged, never surfaced.
func (p *SQSPublisher) Record(ctx context.Context, ev stats.Event) {
	if err := p.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish stat event", "error", err)
	}
}

type InMemoryPublisher struct {
	mu     sync.Mutex
	events []stats.Event
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{events: make([]stats.Event, 0)}
}

func (p *InMemoryPublisher) Publish(_ context.Context, ev stats.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *InMemoryPublisher) Record(ctx context.Context, ev stats.Event) {
	_ = p.Publish(ctx, ev)
}

func (p *InMemoryPublisher) Events() []stats.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stats.Event, len(p.events))
	copy(out, p.events)
	return out
}
