package domain

import (
	"errors"
	"time"
)

// HistoryLimit is the number of recent samples kept per measurement.
const HistoryLimit = 10

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type Sensor struct {
	ID       string   `db:"id" json:"id"`
	Name     string   `db:"name" json:"name"`
	Location string   `db:"location" json:"location,omitempty"`
	X        float64  `db:"x" json:"x"`
	Y        float64  `db:"y" json:"y"`
	Z        *float64 `db:"z" json:"z,omitempty"`
	Status   string   `db:"status" json:"status"`
}

func (s Sensor) Active() bool { return s.Status == StatusActive }

type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Measurement struct {
	Current float64  `json:"current"`
	History []Sample `json:"history"`
}

// Telemetry is the last-known state of one sensor.
type Telemetry struct {
	Temperature Measurement `json:"temperature"`
	Humidity    Measurement `json:"humidity"`
}

// SensorDetail is the payload of GET /sensors/{id}.
type SensorDetail struct {
	Sensor
	Telemetry
}

type Summary struct {
	AvgTemperature  float64 `json:"avgTemperature"`
	AvgHumidity     float64 `json:"avgHumidity"`
	ActiveSensors   int     `json:"activeSensors"`
	InactiveSensors int     `json:"inactiveSensors"`
	CriticalAlerts  int     `json:"criticalAlerts"`
}

const (
	AlertTemperature = "temperature"
	AlertHumidity    = "humidity"
	AlertOffline     = "offline"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

type Alert struct {
	ID           string    `db:"id" json:"id"`
	SensorID     string    `db:"sensor_id" json:"sensorId"`
	SensorName   string    `db:"sensor_name" json:"sensorName,omitempty"`
	Type         string    `db:"type" json:"type"`
	Severity     string    `db:"severity" json:"severity"`
	Message      string    `db:"message" json:"message"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	Acknowledged bool      `db:"acknowledged" json:"acknowledged"`
}

// HistoryPoint is one row of GET /sensors/{id}/history.
type HistoryPoint struct {
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Temperature float64   `db:"temperature" json:"temperature"`
	Humidity    float64   `db:"humidity" json:"humidity"`
}

// HistoryRange bounds a history query; zero values mean unbounded.
type HistoryRange struct {
	Start time.Time
	End   time.Time
}

func (r HistoryRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Reading is one raw telemetry message as persisted by the ingestor.
// Nil fields were absent from the message.
type Reading struct {
	ID          int64     `db:"id" json:"id"`
	SensorID    string    `db:"sensor_id" json:"sensor_id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Temperature *float64  `db:"temperature" json:"temperature,omitempty"`
	Humidity    *float64  `db:"humidity" json:"humidity,omitempty"`
}

// Marker is what the point-cloud viewer draws for a sensor.
type Marker struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Color    string  `json:"color"`
	Selected bool    `json:"selected"`
}

// ParseRange accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func ParseRange(start, end string) (HistoryRange, error) {
	var rng HistoryRange
	var err error
	if start != "" {
		if rng.Start, _, err = parseDate(start); err != nil {
			return rng, errors.New("invalid startDate")
		}
	}
	if end != "" {
		var dateOnly bool
		if rng.End, dateOnly, err = parseDate(end); err != nil {
			return rng, errors.New("invalid endDate")
		}
		if dateOnly {
			rng.End = rng.End.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return rng, nil
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	return t, true, err
}
