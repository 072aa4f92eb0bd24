// Package reconcile merges partial real-time updates into the in-memory
// sensor telemetry map.
package reconcile

import (
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// ApplyUpdate returns the telemetry map that results from applying ev to
// current. Events of an unknown kind, without a sensor id, or naming a
// sensor absent from current are dropped and current is returned as is.
// Entries for other sensors are carried over untouched.
func ApplyUpdate(current map[string]domain.Telemetry, ev domain.UpdateEvent) map[string]domain.Telemetry {
	next, _ := apply(current, ev)
	return next
}

func apply(current map[string]domain.Telemetry, ev domain.UpdateEvent) (map[string]domain.Telemetry, bool) {
	if ev.Type != domain.EventSensorUpdate || ev.SensorID == "" {
		return current, false
	}
	tel, ok := current[ev.SensorID]
	if !ok || ev.Data.Empty() {
		return current, false
	}

	at := ev.SampleTime()
	if ev.Data.Temperature != nil {
		tel.Temperature = push(tel.Temperature, *ev.Data.Temperature, at)
	}
	if ev.Data.Humidity != nil {
		tel.Humidity = push(tel.Humidity, *ev.Data.Humidity, at)
	}

	next := make(map[string]domain.Telemetry, len(current))
	for id, t := range current {
		next[id] = t
	}
	next[ev.SensorID] = tel
	return next, true
}

// push sets the current value and appends a sample, keeping the newest
// domain.HistoryLimit entries. The history is copied, never appended in
// place, so earlier snapshots keep their own backing array.
func push(m domain.Measurement, value float64, at time.Time) domain.Measurement {
	keep := m.History
	if len(keep) >= domain.HistoryLimit {
		keep = keep[len(keep)-domain.HistoryLimit+1:]
	}
	history := make([]domain.Sample, 0, len(keep)+1)
	history = append(history, keep...)
	history = append(history, domain.Sample{Time: at, Value: value})
	return domain.Measurement{Current: value, History: history}
}

// Trim returns t with both histories cut to the newest domain.HistoryLimit
// samples. Used when a detail fetch returns a longer window.
func Trim(t domain.Telemetry) domain.Telemetry {
	t.Temperature.History = tail(t.Temperature.History)
	t.Humidity.History = tail(t.Humidity.History)
	return t
}

func tail(s []domain.Sample) []domain.Sample {
	if len(s) <= domain.HistoryLimit {
		return s
	}
	out := make([]domain.Sample, domain.HistoryLimit)
	copy(out, s[len(s)-domain.HistoryLimit:])
	return out
}
