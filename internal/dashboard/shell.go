// Package dashboard holds the state behind every dashboard panel: the
// sensor list and live telemetry, KPI and alert pollers, the real-time
// channel, and the current selection and section.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/api"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/poller"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/realtime"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/reconcile"
)

var (
	ErrUnknownSensor  = errors.New("unknown sensor")
	ErrUnknownSection = errors.New("unknown section")
)

type Section string

const (
	SectionView3D   Section = "view3d"
	SectionSensors  Section = "sensors"
	SectionHistory  Section = "history"
	SectionAlerts   Section = "alerts"
	SectionSettings Section = "settings"
)

var sections = []Section{SectionView3D, SectionSensors, SectionHistory, SectionAlerts, SectionSettings}

const (
	colorActive   = "#00ff00"
	colorInactive = "#888888"
)

// Notice is a user-facing message, the equivalent of a toast.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Exporter stores an export and returns a link to it.
type Exporter interface {
	UploadExport(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Lister is implemented by exporters that can enumerate earlier exports.
type Lister interface {
	ListExports(ctx context.Context, prefix string) ([]string, error)
}

type Options struct {
	Provider api.Provider
	Realtime realtime.Options

	PollInterval time.Duration
	AlertsPoll   time.Duration
	AlertsLimit  int
	MaxNotices   int

	// Exporter is optional; without it history can only be downloaded.
	Exporter Exporter
	Logger   zerolog.Logger
	Now      func() time.Time

	// OnUpdate receives every event that changed the sensor state.
	OnUpdate     func(domain.UpdateEvent)
	// OnConnection receives channel state changes. It must not block.
	OnConnection func(realtime.State)
}

type Shell struct {
	opts     Options
	log      zerolog.Logger
	provider api.Provider
	store    *reconcile.Store
	channel  *realtime.Client
	kpi      *poller.Poller[domain.Summary]
	alerts   *poller.Poller[[]domain.Alert]

	mu       sync.RWMutex
	sensors  []domain.Sensor
	section  Section
	selected string
	notices  []Notice

	closeOnce sync.Once
}

func New(opts Options) *Shell {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AlertsLimit <= 0 {
		opts.AlertsLimit = 10
	}
	if opts.MaxNotices <= 0 {
		opts.MaxNotices = 20
	}
	s := &Shell{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "dashboard").Logger(),
		provider: opts.Provider,
		store:    reconcile.NewStore(),
		section:  SectionView3D,
	}

	s.kpi = poller.New(poller.Options[domain.Summary]{
		Name:     "kpi",
		Interval: opts.PollInterval,
		Fetch:    s.provider.GetSummary,
		Logger:   opts.Logger,
	})
	s.alerts = poller.New(poller.Options[[]domain.Alert]{
		Name:     "alerts",
		Interval: opts.AlertsPoll,
		Fetch: func(ctx context.Context) ([]domain.Alert, error) {
			return s.provider.ListAlerts(ctx, s.opts.AlertsLimit)
		},
		Logger: opts.Logger,
	})

	rt := opts.Realtime
	rt.Logger = opts.Logger
	rt.OnEvent = s.HandleEvent
	rt.OnStateChange = s.onConnection
	s.channel = realtime.New(rt)
	return s
}

// Load fetches the initial state. Each failure becomes a notice and leaves
// the affected state as it was; the joined errors are returned.
func (s *Shell) Load(ctx context.Context) error {
	var errs []error

	sensors, err := s.provider.ListSensors(ctx)
	if err != nil {
		s.notice("error", "Failed to load sensors")
		errs = append(errs, fmt.Errorf("list sensors: %w", err))
	} else {
		sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })
		s.mu.Lock()
		s.sensors = sensors
		s.mu.Unlock()

		seed := make(map[string]domain.Telemetry, len(sensors))
		for _, sn := range sensors {
			d, err := s.provider.GetSensor(ctx, sn.ID)
			if err != nil {
				s.notice("warning", fmt.Sprintf("No telemetry for %s", sn.Name))
				errs = append(errs, fmt.Errorf("get sensor %s: %w", sn.ID, err))
				seed[sn.ID] = domain.Telemetry{}
				continue
			}
			seed[sn.ID] = d.Telemetry
		}
		s.store.Seed(seed)
	}

	if err := s.kpi.Refresh(ctx); err != nil {
		s.notice("error", "Failed to load KPIs")
		errs = append(errs, fmt.Errorf("summary: %w", err))
	}
	if err := s.alerts.Refresh(ctx); err != nil {
		s.notice("error", "Failed to load alerts")
		errs = append(errs, fmt.Errorf("alerts: %w", err))
	}

	s.log.Info().Int("sensors", s.store.Len()).Int("errors", len(errs)).Msg("initial data loaded")
	return errors.Join(errs...)
}

// Run starts the pollers and, with auto-connect, the channel.
func (s *Shell) Run(ctx context.Context) {
	s.kpi.Start(ctx)
	s.alerts.Start(ctx)
	s.channel.Start(ctx)
}

// Close stops the pollers and the channel. Safe to call more than once.
func (s *Shell) Close() {
	s.closeOnce.Do(func() {
		s.kpi.Stop()
		s.alerts.Stop()
		s.channel.Disconnect()
	})
}

// HandleEvent reconciles one real-time event into the sensor state.
func (s *Shell) HandleEvent(ev domain.UpdateEvent) {
	if !s.store.Apply(ev) {
		s.log.Debug().Str("sensor_id", ev.SensorID).Str("type", ev.Type).Msg("event ignored")
		return
	}
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(ev)
	}
}

func (s *Shell) onConnection(st realtime.State) {
	if st == realtime.StateFailed {
		msg := "Real-time connection lost"
		if err := s.channel.LastError(); err != nil {
			msg = "Connection error: " + err.Error()
		}
		s.notice("error", msg)
	}
	if s.opts.OnConnection != nil {
		s.opts.OnConnection(st)
	}
}

func (s *Shell) Connect(ctx context.Context) error { return s.channel.Connect(ctx) }
func (s *Shell) Disconnect()                       { s.channel.Disconnect() }
func (s *Shell) Channel() *realtime.Client         { return s.channel }

func (s *Shell) notice(level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, Notice{Level: level, Message: msg, At: s.opts.Now()})
	if over := len(s.notices) - s.opts.MaxNotices; over > 0 {
		s.notices = append([]Notice(nil), s.notices[over:]...)
	}
}

func (s *Shell) Notices() []Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notice(nil), s.notices...)
}

func ParseSection(v string) (Section, error) {
	for _, sec := range sections {
		if string(sec) == v {
			return sec, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSection, v)
}

func (s *Shell) SetSection(v string) error {
	sec, err := ParseSection(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.section = sec
	s.mu.Unlock()
	s.log.Debug().Str("section", v).Msg("section changed")
	return nil
}

func (s *Shell) Section() Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.section
}

func (s *Shell) sensor(id string) (domain.Sensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sn := range s.sensors {
		if sn.ID == id {
			return sn, true
		}
	}
	return domain.Sensor{}, false
}

// SelectSensor makes id the active sensor and refreshes its telemetry from
// the provider. The selection stands even if the refresh fails.
func (s *Shell) SelectSensor(ctx context.Context, id string) error {
	sn, ok := s.sensor(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()

	d, err := s.provider.GetSensor(ctx, id)
	if err != nil {
		s.notice("warning", fmt.Sprintf("Could not refresh %s", sn.Name))
		return fmt.Errorf("refresh %s: %w", id, err)
	}
	s.store.Replace(id, d.Telemetry)
	return nil
}

func (s *Shell) ClearSelection() {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
}

func (s *Shell) Selected() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.selected != ""
}

func (s *Shell) Sensors() []domain.Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Sensor(nil), s.sensors...)
}

// FilterSensors matches the query against name and location, ignoring case.
// An empty query returns every sensor.
func (s *Shell) FilterSensors(query string) []domain.Sensor {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []domain.Sensor{}
	for _, sn := range s.Sensors() {
		if q == "" || strings.Contains(strings.ToLower(sn.Name), q) || strings.Contains(strings.ToLower(sn.Location), q) {
			out = append(out, sn)
		}
	}
	return out
}

// Detail joins a sensor with its live telemetry.
func (s *Shell) Detail(id string) (domain.SensorDetail, error) {
	sn, ok := s.sensor(id)
	if !ok {
		return domain.SensorDetail{}, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	t, _ := s.store.Get(id)
	return domain.SensorDetail{Sensor: sn, Telemetry: t}, nil
}

func (s *Shell) Telemetry() map[string]domain.Telemetry { return s.store.Snapshot() }

// Markers returns what the viewer draws, one per sensor.
func (s *Shell) Markers() []domain.Marker {
	selected, _ := s.Selected()
	sensors := s.Sensors()
	out := make([]domain.Marker, 0, len(sensors))
	for _, sn := range sensors {
		m := domain.Marker{
			ID:       sn.ID,
			Label:    sn.Name,
			X:        sn.X,
			Y:        sn.Y,
			Color:    colorInactive,
			Selected: sn.ID == selected,
		}
		if sn.Z != nil {
			m.Z = *sn.Z
		}
		if sn.Active() {
			m.Color = colorActive
		}
		out = append(out, m)
	}
	return out
}

// ClickMarker is the viewer's click callback.
func (s *Shell) ClickMarker(ctx context.Context, id string) error {
	return s.SelectSensor(ctx, id)
}

func (s *Shell) KPI() (domain.Summary, bool) { return s.kpi.Value() }

func (s *Shell) Alerts() []domain.Alert {
	v, _ := s.alerts.Value()
	return append([]domain.Alert(nil), v...)
}

// Acknowledge marks an alert on the provider, then locally. On failure the
// local list is left as it was.
func (s *Shell) Acknowledge(ctx context.Context, id string) error {
	if err := s.provider.AcknowledgeAlert(ctx, id); err != nil {
		s.notice("error", "Failed to acknowledge alert")
		return err
	}
	s.alerts.Update(func(list []domain.Alert) []domain.Alert {
		out := make([]domain.Alert, len(list))
		copy(out, list)
		for i := range out {
			if out[i].ID == id {
				out[i].Acknowledged = true
			}
		}
		return out
	})
	return nil
}

// State is the snapshot served to the browser on load.
type State struct {
	Section    Section                     `json:"section"`
	Selected   string                      `json:"selectedSensorId,omitempty"`
	Connected  bool                        `json:"connected"`
	Connection string                      `json:"connectionState"`
	Attempts   int                         `json:"reconnectAttempts"`
	LastError  string                      `json:"lastError,omitempty"`
	LastEvent  *domain.UpdateEvent         `json:"lastEvent,omitempty"`
	KPI        *domain.Summary             `json:"kpi,omitempty"`
	Sensors    []domain.Sensor             `json:"sensors"`
	Telemetry  map[string]domain.Telemetry `json:"telemetry"`
	Alerts     []domain.Alert              `json:"alerts"`
	Unread     int                         `json:"unreadNotifications"`
	Notices    []Notice                    `json:"notices"`
}

func (s *Shell) State() State {
	selected, _ := s.Selected()
	st := State{
		Section:    s.Section(),
		Selected:   selected,
		Connected:  s.channel.Connected(),
		Connection: s.channel.State().String(),
		Attempts:   s.channel.Attempts(),
		Sensors:    s.Sensors(),
		Telemetry:  s.Telemetry(),
		Alerts:     s.Alerts(),
		Notices:    s.Notices(),
	}
	if err := s.channel.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if ev, ok := s.channel.LastEvent(); ok {
		st.LastEvent = &ev
	}
	if kpi, ok := s.KPI(); ok {
		st.KPI = &kpi
		st.Unread = kpi.CriticalAlerts
	}
	if st.Sensors == nil {
		st.Sensors = []domain.Sensor{}
	}
	if st.Alerts == nil {
		st.Alerts = []domain.Alert{}
	}
	return st
}
