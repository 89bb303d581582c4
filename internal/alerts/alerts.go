package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindDispatchStuck     Kind = "dispatch_stuck"
	KindEvaluationOverdue Kind = "evaluation_overdue"
	KindScoringFailed     Kind = "scoring_failed"
)

// Alert is an operator-facing notice about one session.
type Alert struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// SNSPublisher is the subset of the SNS client used here.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   SNSPublisher
	topicARN string
}

func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

func NewSNSNotifierWithClient(client SNSPublisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, a Alert) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(fmt.Sprintf("interview %s: %s", a.Kind, a.SessionID)),
		Message:  aws.String(string(body)),
	})
	return err
}

// LogNotifier is used when no alert topic is configured.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	n.Logger.WithFields(logrus.Fields{
		"alert":      a.Kind,
		"session_id": a.SessionID,
	}).Error(a.Detail)
	return nil
}
