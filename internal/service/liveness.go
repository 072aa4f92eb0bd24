package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

// Liveness tracks when each sensor last reported and marks silent ones
// offline.
type Liveness struct {
	store   Store
	alerts  *AlertService
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	last    map[string]time.Time
	offline map[string]bool
}

func NewLiveness(store Store, alerts *AlertService, timeout time.Duration, now func() time.Time) *Liveness {
	return &Liveness{
		store:   store,
		alerts:  alerts,
		timeout: timeout,
		now:     now,
		last:    make(map[string]time.Time),
		offline: make(map[string]bool),
	}
}

// Load seeds the tracker from the newest stored reading of each sensor.
func (l *Liveness) Load(ctx context.Context) error {
	seen, err := l.store.LastSeen(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, at := range seen {
		if at.After(l.last[id]) {
			l.last[id] = at
		}
	}
	return nil
}

// Seen records a reading. A sensor previously swept offline is set active
// again and the cached summary dropped.
func (l *Liveness) Seen(ctx context.Context, id string, at time.Time) {
	l.mu.Lock()
	if at.After(l.last[id]) {
		l.last[id] = at
	}
	wasOffline := l.offline[id]
	delete(l.offline, id)
	l.mu.Unlock()

	if !wasOffline {
		return
	}
	if err := l.store.SetSensorStatus(ctx, id, domain.StatusActive); err != nil {
		log.Warn().Err(err).Str("sensor_id", id).Msg("reactivate sensor failed")
		return
	}
	// Active and inactive counts changed.
	l.alerts.invalidate(ctx)
	log.Info().Str("sensor_id", id).Msg("sensor back online")
}

// Silent returns the sensors not heard from within the timeout that have
// not already been reported, sorted by id.
func (l *Liveness) Silent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var out []string
	for id, at := range l.last {
		if !l.offline[id] && now.Sub(at) > l.timeout {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep raises one offline alert per newly silent sensor and marks it
// inactive. A sensor is reported again only after it has been Seen.
func (l *Liveness) Sweep(ctx context.Context) ([]domain.Alert, error) {
	var raised []domain.Alert
	for _, id := range l.Silent() {
		if err := l.store.SetSensorStatus(ctx, id, domain.StatusInactive); err != nil && !errors.Is(err, ErrNotFound) {
			return raised, fmt.Errorf("deactivate %s: %w", id, err)
		}
		a, err := l.alerts.Raise(ctx, domain.Alert{
			SensorID: id,
			Type:     domain.AlertOffline,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("no readings for more than %s", l.timeout),
		})
		if err != nil {
			return raised, err
		}
		l.mu.Lock()
		l.offline[id] = true
		l.mu.Unlock()
		raised = append(raised, a)
	}
	return raised, nil
}

// Run sweeps every interval until ctx is done.
func (l *Liveness) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("liveness sweep failed")
			}
		}
	}
}
