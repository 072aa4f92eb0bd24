package api

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/stats"
)

type mockSensor struct {
	domain.Sensor
	temp, hum float64
}

var demoSensors = []mockSensor{
	{domain.Sensor{ID: "s1", Name: "Sensor A1", Location: "North Zone - Main Building", X: 25, Y: 30, Z: domain.Float(15), Status: domain.StatusActive}, 22.5, 65},
	{domain.Sensor{ID: "s2", Name: "Sensor B2", Location: "East Zone - Warehouse", X: 45, Y: 50, Z: domain.Float(20), Status: domain.StatusActive}, 24.8, 58},
	{domain.Sensor{ID: "s3", Name: "Sensor C3", Location: "South Zone - Offices", X: 65, Y: 35, Z: domain.Float(10), Status: domain.StatusActive}, 21.2, 72},
	{domain.Sensor{ID: "s4", Name: "Sensor D4", Location: "West Zone - Ground Floor", X: 75, Y: 65, Z: domain.Float(25), Status: domain.StatusInactive}, 0, 0},
	{domain.Sensor{ID: "s5", Name: "Sensor E5", Location: "Central Zone - Laboratory", X: 35, Y: 70, Z: domain.Float(18), Status: domain.StatusActive}, 23.1, 61},
}

// Mock is an in-memory Provider serving a fixed demo site. It is used for
// local runs without a backend and as a test double.
type Mock struct {
	mu     sync.Mutex
	alerts []domain.Alert
	now    func() time.Time
}

func NewMock() *Mock {
	return newMock(time.Now)
}

func newMock(now func() time.Time) *Mock {
	t := now()
	return &Mock{
		now: now,
		alerts: []domain.Alert{
			{
				ID:         "a1",
				SensorID:   "s1",
				SensorName: "Sensor A1",
				Type:       domain.AlertTemperature,
				Severity:   domain.SeverityHigh,
				Message:    "Temperature above the allowed threshold",
				Timestamp:  t.Add(-5 * time.Minute),
			},
			{
				ID:         "a2",
				SensorID:   "s4",
				SensorName: "Sensor D4",
				Type:       domain.AlertOffline,
				Severity:   domain.SeverityCritical,
				Message:    "Sensor disconnected",
				Timestamp:  t.Add(-10 * time.Minute),
			},
		},
	}
}

func (m *Mock) ListSensors(context.Context) ([]domain.Sensor, error) {
	out := make([]domain.Sensor, len(demoSensors))
	for i, s := range demoSensors {
		out[i] = s.Sensor
	}
	return out, nil
}

func (m *Mock) GetSensor(_ context.Context, id string) (domain.SensorDetail, error) {
	s, ok := findDemo(id)
	if !ok {
		return domain.SensorDetail{}, ErrNotFound
	}
	d := domain.SensorDetail{Sensor: s.Sensor}
	d.Temperature.Current = s.temp
	d.Humidity.Current = s.hum
	if s.Active() {
		rng := rand.New(rand.NewSource(seed(id)))
		d.Temperature.History = m.samples(rng, s.temp, 2)
		d.Humidity.History = m.samples(rng, s.hum, 10)
	}
	return d, nil
}

// samples spreads domain.HistoryLimit values around base, one a minute.
func (m *Mock) samples(rng *rand.Rand, base, variance float64) []domain.Sample {
	now := m.now()
	out := make([]domain.Sample, domain.HistoryLimit)
	for i := range out {
		out[i] = domain.Sample{
			Time:  now.Add(-time.Duration(domain.HistoryLimit-1-i) * time.Minute),
			Value: stats.Round1(base + (rng.Float64()-0.5)*variance),
		}
	}
	return out
}

// GetSensorHistory returns 24 hourly points ending now, filtered by r.
func (m *Mock) GetSensorHistory(_ context.Context, id string, r domain.HistoryRange) ([]domain.HistoryPoint, error) {
	if _, ok := findDemo(id); !ok {
		return nil, ErrNotFound
	}
	rng := rand.New(rand.NewSource(seed(id) + 1))
	now := m.now().Truncate(time.Second)
	var out []domain.HistoryPoint
	for i := 0; i < 24; i++ {
		p := domain.HistoryPoint{
			Timestamp:   now.Add(-time.Duration(23-i) * time.Hour),
			Temperature: stats.Round1(20 + rng.Float64()*5),
			Humidity:    stats.Round1(55 + rng.Float64()*20),
		}
		if r.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Mock) GetSummary(context.Context) (domain.Summary, error) {
	return domain.Summary{
		AvgTemperature:  22.9,
		AvgHumidity:     64,
		ActiveSensors:   4,
		InactiveSensors: 1,
		CriticalAlerts:  2,
	}, nil
}

func (m *Mock) ListAlerts(_ context.Context, limit int) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Alert(nil), m.alerts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mock) AcknowledgeAlert(_ context.Context, id string) error {
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

func findDemo(id string) (mockSensor, bool) {
	for _, s := range demoSensors {
		if s.ID == id {
			return s, true
		}
	}
	return mockSensor{}, false
}

func seed(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

var (
	_ Provider = (*Client)(nil)
	_ Provider = (*Mock)(nil)
)
