package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/cache"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/stats"
)

// SummaryService computes the dashboard KPIs.
type SummaryService struct {
	store Store
	cache SummaryCache
}

// Get returns the cached summary when present, otherwise computes and
// caches it. Cache failures only cost a recomputation.
func (s *SummaryService) Get(ctx context.Context) (domain.Summary, error) {
	if s.cache != nil {
		sum, err := s.cache.Get(ctx)
		if err == nil {
			return sum, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Msg("summary cache read failed")
		}
	}

	sum, err := s.Compute(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, sum); err != nil {
			log.Warn().Err(err).Msg("summary cache write failed")
		}
	}
	return sum, nil
}

// Compute averages the latest reading of every active sensor and counts
// sensors and unacknowledged critical alerts.
func (s *SummaryService) Compute(ctx context.Context) (domain.Summary, error) {
	latest, err := s.store.LatestForActive(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	var temps, hums stats.Series
	var zero time.Time
	for _, l := range latest {
		if l.Temperature != nil {
			temps.Add(*l.Temperature, zero)
		}
		if l.Humidity != nil {
			hums.Add(*l.Humidity, zero)
		}
	}

	active, inactive, err := s.store.CountSensorsByStatus(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	critical, err := s.store.CountUnacknowledged(ctx, domain.SeverityCritical)
	if err != nil {
		return domain.Summary{}, err
	}

	return domain.Summary{
		AvgTemperature:  stats.Round1(temps.Mean()),
		AvgHumidity:     stats.Round1(hums.Mean()),
		ActiveSensors:   active,
		InactiveSensors: inactive,
		CriticalAlerts:  critical,
	}, nil
}
