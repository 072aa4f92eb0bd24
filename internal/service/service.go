package service

import (
	"context"
	"errors"
	"time"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/repository"
)

// ErrNotFound is returned for unknown sensors and alerts.
var ErrNotFound = repository.ErrNotFound

// Store is the subset of the repository the services use. *repository.Repos
// implements it.
type Store interface {
	ListSensors(ctx context.Context) ([]domain.Sensor, error)
	GetSensor(ctx context.Context, id string) (domain.Sensor, error)
	EnsureSensor(ctx context.Context, s domain.Sensor) error
	SetSensorStatus(ctx context.Context, id, status string) error
	CountSensorsByStatus(ctx context.Context) (active, inactive int, err error)

	InsertReading(ctx context.Context, rd *domain.Reading) error
	RecentSamples(ctx context.Context, sensorID, column string, n int) ([]domain.Sample, error)
	History(ctx context.Context, sensorID string, rng domain.HistoryRange) ([]domain.HistoryPoint, error)
	LatestForActive(ctx context.Context) ([]repository.Latest, error)
	LastSeen(ctx context.Context) (map[string]time.Time, error)

	InsertAlert(ctx context.Context, a domain.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
	CountUnacknowledged(ctx context.Context, severity string) (int, error)
}

// HistorySource serves range queries over stored readings. Postgres,
// DynamoDB and InfluxDB each provide one.
type HistorySource interface {
	History(ctx context.Context, sensorID string, rng domain.HistoryRange) ([]domain.HistoryPoint, error)
}

// ReadingSink receives a copy of every stored reading.
type ReadingSink interface {
	WriteReading(ctx context.Context, r domain.Reading) error
}

// Notifier delivers alerts outside the system.
type Notifier interface {
	NotifyAlert(ctx context.Context, a domain.Alert) error
}

// SummaryCache stores the computed summary for a short while.
type SummaryCache interface {
	Get(ctx context.Context) (domain.Summary, error)
	Set(ctx context.Context, s domain.Summary) error
	Invalidate(ctx context.Context) error
}

type Deps struct {
	Store Store

	// Optional collaborators; nil disables the feature.
	History  HistorySource
	Sinks    []ReadingSink
	Notifier Notifier
	Cache    SummaryCache

	Thresholds     Thresholds
	OfflineTimeout time.Duration
	Now            func() time.Time
}

type Services struct {
	Sensors  *SensorService
	Summary  *SummaryService
	Alerts   *AlertService
	Readings *ReadingService
	Liveness *Liveness
}

func New(d Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	history := d.History
	if history == nil {
		history = d.Store
	}
	alerts := &AlertService{store: d.Store, notifier: d.Notifier, cache: d.Cache, now: d.Now}
	return &Services{
		Sensors:  &SensorService{store: d.Store, history: history},
		Summary:  &SummaryService{store: d.Store, cache: d.Cache},
		Alerts:   alerts,
		Readings: &ReadingService{store: d.Store, sinks: d.Sinks, alerts: alerts, eval: NewEvaluator(d.Thresholds), now: d.Now},
		Liveness: NewLiveness(d.Store, alerts, d.OfflineTimeout, d.Now),
	}
}

// SensorService answers sensor list, detail and history queries.
type SensorService struct {
	store   Store
	history HistorySource
}

func (s *SensorService) List(ctx context.Context) ([]domain.Sensor, error) {
	return s.store.ListSensors(ctx)
}

// Detail returns the sensor with its newest domain.HistoryLimit samples
// per measurement.
func (s *SensorService) Detail(ctx context.Context, id string) (domain.SensorDetail, error) {
	sensor, err := s.store.GetSensor(ctx, id)
	if err != nil {
		return domain.SensorDetail{}, err
	}
	d := domain.SensorDetail{Sensor: sensor}

	temps, err := s.store.RecentSamples(ctx, id, "temperature", domain.HistoryLimit)
	if err != nil {
		return domain.SensorDetail{}, err
	}
	hums, err := s.store.RecentSamples(ctx, id, "humidity", domain.HistoryLimit)
	if err != nil {
		return domain.SensorDetail{}, err
	}
	d.Temperature = measurement(temps)
	d.Humidity = measurement(hums)
	return d, nil
}

func measurement(samples []domain.Sample) domain.Measurement {
	m := domain.Measurement{History: samples}
	if m.History == nil {
		m.History = []domain.Sample{}
	}
	if n := len(samples); n > 0 {
		m.Current = samples[n-1].Value
	}
	return m
}

func (s *SensorService) History(ctx context.Context, id string, rng domain.HistoryRange) ([]domain.HistoryPoint, error) {
	if _, err := s.store.GetSensor(ctx, id); err != nil {
		return nil, err
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && rng.End.Before(rng.Start) {
		return nil, ErrBadRange
	}
	pts, err := s.history.History(ctx, id, rng)
	if err != nil {
		return nil, err
	}
	if pts == nil {
		pts = []domain.HistoryPoint{}
	}
	return pts, nil
}

var ErrBadRange = errors.New("endDate is before startDate")
