package cloud

import (
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

func TestReadingItem_OmitsAbsentMeasurements(t *testing.T) {
	at := time.Date(2024, 11, 7, 10, 30, 0, 0, time.UTC)
	item, err := attributevalue.MarshalMap(toItem(domain.Reading{
		SensorID:    "s1",
		Timestamp:   at,
		Temperature: domain.Float(23.5),
	}))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := item["humidity"]; ok {
		t.Error("absent humidity was stored")
	}
	ts, ok := item["timestamp"].(*types.AttributeValueMemberN)
	if !ok || ts.Value != "1730975400000" {
		t.Errorf("timestamp attribute = %#v", item["timestamp"])
	}

	var back readingItem
	if err := attributevalue.UnmarshalMap(item, &back); err != nil {
		t.Fatal(err)
	}
	p := fromItem(back)
	if !p.Timestamp.Equal(at) || p.Temperature != 23.5 || p.Humidity != 0 {
		t.Errorf("history point = %+v", p)
	}
}

func TestHistoryQuery_Bounds(t *testing.T) {
	start := time.UnixMilli(1000)
	q := historyQuery("SensorReadings", "s2", domain.HistoryRange{Start: start})

	if *q.TableName != "SensorReadings" {
		t.Errorf("table = %s", *q.TableName)
	}
	if v := q.ExpressionAttributeValues[":start"].(*types.AttributeValueMemberN).Value; v != "1000" {
		t.Errorf(":start = %s", v)
	}
	if v := q.ExpressionAttributeValues[":end"].(*types.AttributeValueMemberN).Value; v != "9223372036854775807" {
		t.Errorf(":end = %s, want open upper bound", v)
	}
}

func TestAlertFormatting(t *testing.T) {
	a := domain.Alert{
		SensorID:  "s4",
		Type:      domain.AlertOffline,
		Severity:  domain.SeverityCritical,
		Message:   "no readings for 5m0s",
		Timestamp: time.Date(2024, 11, 7, 10, 30, 0, 0, time.UTC),
	}

	if got := AlertSubject(a); got != "Sensor Alert [critical]: s4 offline" {
		t.Errorf("subject = %q", got)
	}
	body := AlertBody(a)
	if !strings.Contains(body, "2024-11-07T10:30:00Z") || !strings.Contains(body, "no readings for 5m0s") {
		t.Errorf("body = %q", body)
	}
}

func TestExportKey(t *testing.T) {
	at := time.Date(2024, 11, 7, 10, 30, 0, 0, time.UTC)
	if got := ExportKey("s1", at); got != "exports/s1/sensor_s1_history_20241107T103000Z.csv" {
		t.Errorf("ExportKey = %q", got)
	}
	if !strings.HasPrefix(ExportKey("s1", at), ExportPrefix("s1")) {
		t.Error("ExportKey does not start with ExportPrefix")
	}
}
