package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

var (
	ErrNoSensorID   = errors.New("reading has no sensor id")
	ErrEmptyReading = errors.New("reading has no measurements")
)

type ReadingService struct {
	store  Store
	sinks  []ReadingSink
	alerts *AlertService
	eval   *Evaluator
	now    func() time.Time
}

// TopicSensorID extracts the id from a sensors/<id>/telemetry topic.
func TopicSensorID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 3 && parts[0] == "sensors" && parts[2] == "telemetry" {
		return parts[1]
	}
	return ""
}

// ParseReading decodes one telemetry message. The topic supplies the
// sensor id when the payload does not, and a missing timestamp means now.
func ParseReading(topic string, payload []byte, now time.Time) (domain.Reading, error) {
	var msg struct {
		SensorID    string     `json:"sensor_id"`
		Timestamp   *time.Time `json:"timestamp"`
		Temperature *float64   `json:"temperature"`
		Humidity    *float64   `json:"humidity"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	r := domain.Reading{
		SensorID:    msg.SensorID,
		Timestamp:   now.UTC(),
		Temperature: msg.Temperature,
		Humidity:    msg.Humidity,
	}
	if r.SensorID == "" {
		r.SensorID = TopicSensorID(topic)
	}
	if r.SensorID == "" {
		return domain.Reading{}, ErrNoSensorID
	}
	if r.Temperature == nil && r.Humidity == nil {
		return domain.Reading{}, ErrEmptyReading
	}
	if msg.Timestamp != nil && !msg.Timestamp.IsZero() {
		r.Timestamp = msg.Timestamp.UTC()
	}
	return r, nil
}

// FromMQTT stores one telemetry message, mirrors it to the sinks and raises
// any threshold alerts. Sink and alert failures are logged, not returned.
func (s *ReadingService) FromMQTT(ctx context.Context, topic string, payload []byte) (domain.Reading, error) {
	r, err := ParseReading(topic, payload, s.now())
	if err != nil {
		return domain.Reading{}, err
	}

	if err := s.store.EnsureSensor(ctx, domain.Sensor{ID: r.SensorID, Name: r.SensorID, Status: domain.StatusActive}); err != nil {
		return domain.Reading{}, fmt.Errorf("register sensor %s: %w", r.SensorID, err)
	}
	if err := s.store.InsertReading(ctx, &r); err != nil {
		return domain.Reading{}, fmt.Errorf("store reading: %w", err)
	}

	for _, sink := range s.sinks {
		if err := sink.WriteReading(ctx, r); err != nil {
			log.Warn().Err(err).Str("sensor_id", r.SensorID).Msg("reading mirror failed")
		}
	}

	for _, a := range s.eval.Evaluate(r) {
		a.Timestamp = r.Timestamp
		if _, err := s.alerts.Raise(ctx, a); err != nil {
			log.Error().Err(err).Str("sensor_id", r.SensorID).Msg("raise alert failed")
		}
	}
	return r, nil
}

// ToEvent converts a stored reading into the push frame subscribers receive.
func ToEvent(r domain.Reading) domain.UpdateEvent {
	return domain.UpdateEvent{
		Type:     domain.EventSensorUpdate,
		SensorID: r.SensorID,
		Data: domain.UpdateData{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		},
		Timestamp: r.Timestamp,
	}
}
