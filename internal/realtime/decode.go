package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

var (
	ErrUnknownKind   = errors.New("unknown event type")
	ErrMissingSensor = errors.New("event has no sensor id")
)

// wireEvent mirrors the frame layout. The timestamp stays a string so a
// malformed or missing value does not cost us the reading.
type wireEvent struct {
	Type      string            `json:"type"`
	SensorID  string            `json:"sensorId"`
	Data      domain.UpdateData `json:"data"`
	Timestamp string            `json:"timestamp"`
}

// DecodeEvent parses one frame and stamps it with receivedAt.
func DecodeEvent(frame []byte, receivedAt time.Time) (domain.UpdateEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(frame, &w); err != nil {
		return domain.UpdateEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	if w.Type != domain.EventSensorUpdate {
		return domain.UpdateEvent{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
	if w.SensorID == "" {
		return domain.UpdateEvent{}, ErrMissingSensor
	}

	ev := domain.UpdateEvent{
		Type:       w.Type,
		SensorID:   w.SensorID,
		Data:       w.Data,
		ReceivedAt: receivedAt,
	}
	if w.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, w.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}
	return ev, nil
}

// EncodeEvent renders ev in the frame layout, the inverse of DecodeEvent.
func EncodeEvent(ev domain.UpdateEvent) ([]byte, error) {
	w := wireEvent{
		Type:     ev.Type,
		SensorID: ev.SensorID,
		Data:     ev.Data,
	}
	if !ev.Timestamp.IsZero() {
		w.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}
