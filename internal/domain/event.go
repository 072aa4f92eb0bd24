package domain

import "time"

// EventSensorUpdate is the only real-time event kind.
const EventSensorUpdate = "sensor_update"

// UpdateData carries a partial telemetry payload. A nil field was absent.
type UpdateData struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

func (d UpdateData) Empty() bool { return d.Temperature == nil && d.Humidity == nil }

type UpdateEvent struct {
	Type      string     `json:"type"`
	SensorID  string     `json:"sensorId"`
	Data      UpdateData `json:"data"`
	Timestamp time.Time  `json:"timestamp"`

	// ReceivedAt is stamped by the channel when the frame is decoded.
	ReceivedAt time.Time `json:"-"`
}

// SampleTime is the time recorded for history samples produced by the event.
func (e UpdateEvent) SampleTime() time.Time {
	if !e.ReceivedAt.IsZero() {
		return e.ReceivedAt
	}
	return e.Timestamp
}

// Float returns a pointer to v, for building partial payloads.
func Float(v float64) *float64 { return &v }
