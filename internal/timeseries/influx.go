// Package timeseries mirrors readings into InfluxDB and serves history
// queries from it.
package timeseries

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

const measurement = "sensor_reading"

type Store struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
}

func New(cfg config.InfluxConfig) (*Store, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}, nil
}

func (s *Store) Close() { s.client.Close() }

// Ping checks that the server is up.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influx not ready")
	}
	return nil
}

// WriteReading stores the measurements present in r. A reading with none
// is skipped.
func (s *Store) WriteReading(ctx context.Context, r domain.Reading) error {
	fields := readingFields(r)
	if len(fields) == 0 {
		return nil
	}
	t := r.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	point := influxdb2.NewPoint(measurement, map[string]string{"sensor_id": r.SensorID}, fields, t)
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func readingFields(r domain.Reading) map[string]interface{} {
	fields := map[string]interface{}{}
	if r.Temperature != nil {
		fields["temperature"] = *r.Temperature
	}
	if r.Humidity != nil {
		fields["humidity"] = *r.Humidity
	}
	return fields
}

// History returns one point per timestamp inside rng, oldest first.
func (s *Store) History(ctx context.Context, sensorID string, rng domain.HistoryRange) ([]domain.HistoryPoint, error) {
	res, err := s.query.Query(ctx, buildHistoryFlux(s.bucket, sensorID, rng))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	var out []domain.HistoryPoint
	for res.Next() {
		rec := res.Record()
		out = append(out, domain.HistoryPoint{
			Timestamp:   rec.Time().UTC(),
			Temperature: toFloat(rec.ValueByKey("temperature")),
			Humidity:    toFloat(rec.ValueByKey("humidity")),
		})
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("influx iterate: %w", res.Err())
	}
	return out, nil
}

func buildHistoryFlux(bucket, sensorID string, rng domain.HistoryRange) string {
	start := "0"
	if !rng.Start.IsZero() {
		start = rng.Start.UTC().Format(time.RFC3339Nano)
	}
	stop := "now()"
	if !rng.End.IsZero() {
		// range stop is exclusive
		stop = rng.End.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.sensor_id == %q)
  |> filter(fn: (r) => r._field == "temperature" or r._field == "humidity")
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])
`, bucket, start, stop, measurement, sensorID)
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return 0
}
