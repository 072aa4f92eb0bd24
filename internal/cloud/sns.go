package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// SNSClient publishes alert notifications to a topic.
type SNSClient struct {
	svc      *sns.Client
	topicArn string
}

func NewSNSClient(ctx context.Context, region, topicArn string) (*SNSClient, error) {
	cfg, err := loadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return &SNSClient{
		svc:      sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func (c *SNSClient) SendAlert(ctx context.Context, subject, message string) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}

	result, err := c.svc.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	log.Info().Str("message_id", aws.ToString(result.MessageId)).Msg("alert notification sent")
	return nil
}

// NotifyAlert formats a sensor alert and publishes it.
func (c *SNSClient) NotifyAlert(ctx context.Context, a domain.Alert) error {
	return c.SendAlert(ctx, AlertSubject(a), AlertBody(a))
}

func AlertSubject(a domain.Alert) string {
	name := a.SensorName
	if name == "" {
		name = a.SensorID
	}
	return fmt.Sprintf("Sensor Alert [%s]: %s %s", a.Severity, name, a.Type)
}

func AlertBody(a domain.Alert) string {
	return fmt.Sprintf(
		"Sensor Alert\n\n"+
			"Sensor: %s (%s)\n"+
			"Type: %s\n"+
			"Severity: %s\n"+
			"Message: %s\n"+
			"Time: %s\n\n"+
			"Please investigate.",
		a.SensorName,
		a.SensorID,
		a.Type,
		a.Severity,
		a.Message,
		a.Timestamp.UTC().Format(time.RFC3339),
	)
}
