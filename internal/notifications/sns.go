// Package notifications publishes operational alerts such as a full provider
// outage.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type NotificationType string

const (
	NotificationProviderOutage NotificationType = "provider_outage"
)

type AttemptSummary struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

type Notification struct {
	Type       NotificationType `json:"type"`
	Scope      string           `json:"scope,omitempty"`
	Message    string           `json:"message"`
	Attempts   []AttemptSummary `json:"attempts,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   snsAPI
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicArn), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicArn: topicArn}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String("tourai: " + string(notification.Type)),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	}

	if notification.Scope != "" {
		input.MessageAttributes["Scope"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.Scope),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent", "type", notification.Type, "scope", notification.Scope)
	return nil
}

// LogNotifier only logs. It is the notifier when no SNS topic is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, notification Notification) error {
	n.logger.Warn("notification",
		"type", notification.Type,
		"scope", notification.Scope,
		"message", notification.Message,
		"attempts", len(notification.Attempts),
	)
	return nil
}

// Throttled forwards at most one notification per type per interval, so a
// sustained outage produces one alert rather than one per failed call.
type Throttled struct {
	next     Notifier
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[NotificationType]time.Time
}

func NewThrottled(next Notifier, interval time.Duration) *Throttled {
	return &Throttled{
		next:     next,
		interval: interval,
		now:      time.Now,
		last:     make(map[NotificationType]time.Time),
	}
}

func (t *Throttled) Send(ctx context.Context, notification Notification) error {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[notification.Type]; ok && now.Sub(last) < t.interval {
		t.mu.Unlock()
		return nil
	}
	t.last[notification.Type] = now
	t.mu.Unlock()

	return t.next.Send(ctx, notification)
}

type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{notifications: make([]Notification, 0)}
}

func (n *InMemoryNotifier) Send(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *InMemoryNotifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}
