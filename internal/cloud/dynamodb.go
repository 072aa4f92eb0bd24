package cloud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// DynamoDBClient keeps the long-term reading history, keyed by sensorId
// (partition) and timestamp in unix milliseconds (sort).
type DynamoDBClient struct {
	svc   *dynamodb.Client
	table string
}

func NewDynamoDBClient(ctx context.Context, region, table string) (*DynamoDBClient, error) {
	cfg, err := loadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return &DynamoDBClient{
		svc:   dynamodb.NewFromConfig(cfg),
		table: table,
	}, nil
}

// readingItem is the stored item layout. Absent measurements are omitted.
type readingItem struct {
	SensorID    string   `dynamodbav:"sensorId"`
	Timestamp   int64    `dynamodbav:"timestamp"`
	Temperature *float64 `dynamodbav:"temperature,omitempty"`
	Humidity    *float64 `dynamodbav:"humidity,omitempty"`
}

func toItem(r domain.Reading) readingItem {
	return readingItem{
		SensorID:    r.SensorID,
		Timestamp:   r.Timestamp.UnixMilli(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}
}

func (c *DynamoDBClient) WriteReading(ctx context.Context, r domain.Reading) error {
	item, err := attributevalue.MarshalMap(toItem(r))
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item in DynamoDB: %w", err)
	}
	return nil
}

// History returns the readings of one sensor inside rng, oldest first.
// Readings that carry only one measurement report the other as zero.
func (c *DynamoDBClient) History(ctx context.Context, sensorID string, rng domain.HistoryRange) ([]domain.HistoryPoint, error) {
	input := historyQuery(c.table, sensorID, rng)

	var out []domain.HistoryPoint
	paginator := dynamodb.NewQueryPaginator(c.svc, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		var items []readingItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal readings: %w", err)
		}
		for _, it := range items {
			out = append(out, fromItem(it))
		}
	}
	return out, nil
}

func historyQuery(table, sensorID string, rng domain.HistoryRange) *dynamodb.QueryInput {
	start := int64(0)
	if !rng.Start.IsZero() {
		start = rng.Start.UnixMilli()
	}
	end := int64(1<<63 - 1)
	if !rng.End.IsZero() {
		end = rng.End.UnixMilli()
	}

	return &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("sensorId = :sid AND #ts BETWEEN :start AND :end"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid":   &types.AttributeValueMemberS{Value: sensorID},
			":start": &types.AttributeValueMemberN{Value: strconv.FormatInt(start, 10)},
			":end":   &types.AttributeValueMemberN{Value: strconv.FormatInt(end, 10)},
		},
		ScanIndexForward: aws.Bool(true),
	}
}

func fromItem(it readingItem) domain.HistoryPoint {
	p := domain.HistoryPoint{Timestamp: time.UnixMilli(it.Timestamp).UTC()}
	if it.Temperature != nil {
		p.Temperature = *it.Temperature
	}
	if it.Humidity != nil {
		p.Humidity = *it.Humidity
	}
	return p
}
