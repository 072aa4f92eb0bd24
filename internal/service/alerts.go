package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/stats"
)

// DefaultAlertLimit applies when a caller does not ask for a limit.
const DefaultAlertLimit = 10

// Thresholds is the accepted band for each measurement.
type Thresholds struct {
	TempMin, TempMax         float64
	HumidityMin, HumidityMax float64
}

func ThresholdsFrom(c config.AlertsConfig) Thresholds {
	return Thresholds{
		TempMin:     c.TempMin,
		TempMax:     c.TempMax,
		HumidityMin: c.HumidityMin,
		HumidityMax: c.HumidityMax,
	}
}

// Evaluator turns out-of-band readings into alerts.
type Evaluator struct {
	t Thresholds
}

func NewEvaluator(t Thresholds) *Evaluator { return &Evaluator{t: t} }

// Evaluate returns one alert per measurement of r that falls outside its
// band. The alerts have no id or timestamp yet.
func (e *Evaluator) Evaluate(r domain.Reading) []domain.Alert {
	var out []domain.Alert
	if r.Temperature != nil {
		if a, ok := check(domain.AlertTemperature, *r.Temperature, e.t.TempMin, e.t.TempMax, "°C", [3]float64{2, 5, 10}); ok {
			out = append(out, a)
		}
	}
	if r.Humidity != nil {
		if a, ok := check(domain.AlertHumidity, *r.Humidity, e.t.HumidityMin, e.t.HumidityMax, "%", [3]float64{5, 10, 20}); ok {
			out = append(out, a)
		}
	}
	for i := range out {
		out[i].SensorID = r.SensorID
	}
	return out
}

// check grades the distance past the band: under steps[0] is low, under
// steps[1] medium, under steps[2] high, anything further critical.
func check(kind string, v, lo, hi float64, unit string, steps [3]float64) (domain.Alert, bool) {
	var dist float64
	var dir string
	switch {
	case v > hi:
		dist, dir = v-hi, "above"
	case v < lo:
		dist, dir = lo-v, "below"
	default:
		return domain.Alert{}, false
	}

	sev := domain.SeverityCritical
	switch {
	case dist < steps[0]:
		sev = domain.SeverityLow
	case dist < steps[1]:
		sev = domain.SeverityMedium
	case dist < steps[2]:
		sev = domain.SeverityHigh
	}
	bound := hi
	if dir == "below" {
		bound = lo
	}
	return domain.Alert{
		Type:     kind,
		Severity: sev,
		Message:  fmt.Sprintf("%s %.1f%s is %s the %.1f%s threshold", kind, stats.Round1(v), unit, dir, bound, unit),
	}, true
}

// AlertService persists, lists and acknowledges alerts.
type AlertService struct {
	store    Store
	notifier Notifier
	cache    SummaryCache
	now      func() time.Time
}

// Raise stores a new alert and, for critical ones, notifies. Notification
// failures are logged; the alert is kept.
func (s *AlertService) Raise(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	a.Acknowledged = false
	if err := s.store.InsertAlert(ctx, a); err != nil {
		return domain.Alert{}, fmt.Errorf("store alert: %w", err)
	}
	log.Info().
		Str("alert_id", a.ID).
		Str("sensor_id", a.SensorID).
		Str("type", a.Type).
		Str("severity", a.Severity).
		Msg("alert raised")

	if a.Severity == domain.SeverityCritical {
		s.invalidate(ctx)
		if s.notifier != nil {
			if err := s.notifier.NotifyAlert(ctx, a); err != nil {
				log.Error().Err(err).Str("alert_id", a.ID).Msg("alert notification failed")
			}
		}
	}
	return a, nil
}

func (s *AlertService) List(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	return s.store.ListAlerts(ctx, limit)
}

func (s *AlertService) Acknowledge(ctx context.Context, id string) error {
	if err := s.store.AcknowledgeAlert(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *AlertService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("summary cache invalidate failed")
	}
}
