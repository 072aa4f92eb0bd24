package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// Memory is an in-process store with the same behavior as Repos. The api
// binary falls back to it when no database is configured.
type Memory struct {
	mu       sync.Mutex
	sensors  map[string]domain.Sensor
	readings []domain.Reading
	alerts   []domain.Alert
	nextID   int64
}

func NewMemory(sensors ...domain.Sensor) *Memory {
	m := &Memory{sensors: make(map[string]domain.Sensor)}
	for _, s := range sensors {
		m.sensors[s.ID] = s
	}
	return m
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) ListSensors(context.Context) ([]domain.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetSensor(_ context.Context, id string) (domain.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sensors[id]
	if !ok {
		return domain.Sensor{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) EnsureSensor(_ context.Context, s domain.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sensors[s.ID]; !ok {
		m.sensors[s.ID] = s
	}
	return nil
}

func (m *Memory) SetSensorStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sensors[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	m.sensors[id] = s
	return nil
}

func (m *Memory) CountSensorsByStatus(context.Context) (active, inactive int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sensors {
		switch s.Status {
		case domain.StatusActive:
			active++
		case domain.StatusInactive:
			inactive++
		}
	}
	return active, inactive, nil
}

func (m *Memory) InsertReading(_ context.Context, rd *domain.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rd.ID = m.nextID
	m.readings = append(m.readings, *rd)
	return nil
}

// byTime returns the readings of one sensor ordered by timestamp.
func (m *Memory) byTime(sensorID string) []domain.Reading {
	var out []domain.Reading
	for _, r := range m.readings {
		if r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Memory) RecentSamples(_ context.Context, sensorID, column string, n int) ([]domain.Sample, error) {
	if column != "temperature" && column != "humidity" {
		return nil, errors.New("unknown measurement " + column)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Sample{}
	for _, r := range m.byTime(sensorID) {
		v := r.Temperature
		if column == "humidity" {
			v = r.Humidity
		}
		if v != nil {
			out = append(out, domain.Sample{Time: r.Timestamp, Value: *v})
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *Memory) History(_ context.Context, sensorID string, rng domain.HistoryRange) ([]domain.HistoryPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.HistoryPoint{}
	for _, r := range m.byTime(sensorID) {
		if !rng.Contains(r.Timestamp) {
			continue
		}
		p := domain.HistoryPoint{Timestamp: r.Timestamp}
		if r.Temperature != nil {
			p.Temperature = *r.Temperature
		}
		if r.Humidity != nil {
			p.Humidity = *r.Humidity
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) LatestForActive(context.Context) ([]Latest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Latest
	for id, s := range m.sensors {
		if !s.Active() {
			continue
		}
		l := Latest{SensorID: id}
		for _, r := range m.byTime(id) {
			if r.Temperature != nil {
				l.Temperature = r.Temperature
			}
			if r.Humidity != nil {
				l.Humidity = r.Humidity
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

func (m *Memory) LastSeen(context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time)
	for _, r := range m.readings {
		if r.Timestamp.After(out[r.SensorID]) {
			out[r.SensorID] = r.Timestamp
		}
	}
	return out, nil
}

func (m *Memory) InsertAlert(_ context.Context, a domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) ListAlerts(_ context.Context, limit int) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Alert, len(m.alerts))
	for i, a := range m.alerts {
		a.SensorName = m.sensors[a.SensorID].Name
		out[i] = a
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AcknowledgeAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CountUnacknowledged(_ context.Context, severity string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.Severity == severity && !a.Acknowledged {
			n++
		}
	}
	return n, nil
}
