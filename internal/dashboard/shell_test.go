package dashboard

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/api"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/realtime"
)

var errDown = errors.New("backend down")

// flakyProvider wraps the demo provider and fails the calls that are
// switched off.
type flakyProvider struct {
	*api.Mock
	mu         sync.Mutex
	failList   bool
	failDetail map[string]bool
	failKPI    bool
}

func newFlaky() *flakyProvider {
	return &flakyProvider{Mock: api.NewMock(), failDetail: map[string]bool{}}
}

func (p *flakyProvider) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	p.mu.Lock()
	fail := p.failList
	p.mu.Unlock()
	if fail {
		return nil, errDown
	}
	return p.Mock.ListSensors(ctx)
}

func (p *flakyProvider) GetSensor(ctx context.Context, id string) (domain.SensorDetail, error) {
	p.mu.Lock()
	fail := p.failDetail[id]
	p.mu.Unlock()
	if fail {
		return domain.SensorDetail{}, errDown
	}
	return p.Mock.GetSensor(ctx, id)
}

func (p *flakyProvider) GetSummary(ctx context.Context) (domain.Summary, error) {
	p.mu.Lock()
	fail := p.failKPI
	p.mu.Unlock()
	if fail {
		return domain.Summary{}, errDown
	}
	return p.Mock.GetSummary(ctx)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.UpdateEvent
	states []realtime.State
}

func (r *recorder) onUpdate(ev domain.UpdateEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) onConnection(st realtime.State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestShell(t *testing.T, p api.Provider, rec *recorder) *Shell {
	t.Helper()
	opts := Options{
		Provider:     p,
		Realtime:     realtime.Options{URL: "ws://127.0.0.1:1/sensors", ReconnectDelay: 10 * time.Millisecond},
		PollInterval: time.Hour,
		AlertsPoll:   time.Hour,
		Logger:       zerolog.Nop(),
	}
	if rec != nil {
		opts.OnUpdate = rec.onUpdate
		opts.OnConnection = rec.onConnection
	}
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

func update(id string, temp, hum *float64) domain.UpdateEvent {
	return domain.UpdateEvent{
		Type:       domain.EventSensorUpdate,
		SensorID:   id,
		Data:       domain.UpdateData{Temperature: temp, Humidity: hum},
		Timestamp:  time.Date(2024, 11, 7, 10, 30, 0, 0, time.UTC),
		ReceivedAt: time.Now(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestShell_LoadSeedsState(t *testing.T) {
	s := newTestShell(t, api.NewMock(), nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if n := len(s.Sensors()); n != 5 {
		t.Fatalf("sensors = %d, want 5", n)
	}
	tel := s.Telemetry()
	if len(tel) != 5 {
		t.Fatalf("telemetry entries = %d, want 5", len(tel))
	}
	if h := tel["s1"].Temperature.History; len(h) != domain.HistoryLimit {
		t.Errorf("s1 temperature history = %d samples", len(h))
	}
	if tel["s1"].Temperature.Current != 22.5 {
		t.Errorf("s1 current = %v", tel["s1"].Temperature.Current)
	}
	if h := tel["s4"].Temperature.History; len(h) != 0 {
		t.Errorf("inactive s4 history = %d samples", len(h))
	}

	kpi, ok := s.KPI()
	if !ok || kpi.AvgTemperature != 22.9 || kpi.CriticalAlerts != 2 {
		t.Errorf("kpi = %+v, %v", kpi, ok)
	}
	if alerts := s.Alerts(); len(alerts) != 2 || alerts[0].ID != "a1" {
		t.Errorf("alerts = %+v", alerts)
	}
	if n := s.Notices(); len(n) != 0 {
		t.Errorf("notices = %+v", n)
	}
}

func TestShell_LoadFailuresBecomeNotices(t *testing.T) {
	p := newFlaky()
	p.failList = true
	p.failKPI = true
	s := newTestShell(t, p, nil)

	err := s.Load(context.Background())
	if !errors.Is(err, errDown) {
		t.Fatalf("Load err = %v, want errDown", err)
	}
	if len(s.Sensors()) != 0 || len(s.Telemetry()) != 0 {
		t.Error("state changed after failed load")
	}
	if _, ok := s.KPI(); ok {
		t.Error("KPI set after failed fetch")
	}
	if len(s.Alerts()) != 2 {
		t.Errorf("alerts = %d, want 2 (that fetch succeeded)", len(s.Alerts()))
	}
	notices := s.Notices()
	if len(notices) != 2 || notices[0].Message != "Failed to load sensors" || notices[1].Level != "error" {
		t.Errorf("notices = %+v", notices)
	}
}

func TestShell_LoadKeepsSensorWithoutDetail(t *testing.T) {
	p := newFlaky()
	p.failDetail["s2"] = true
	s := newTestShell(t, p, nil)

	if err := s.Load(context.Background()); !errors.Is(err, errDown) {
		t.Fatalf("Load err = %v", err)
	}
	tel, ok := s.Telemetry()["s2"]
	if !ok || tel.Temperature.Current != 0 || len(tel.Temperature.History) != 0 {
		t.Errorf("s2 telemetry = %+v, %v", tel, ok)
	}
	if len(s.Notices()) != 1 {
		t.Errorf("notices = %+v", s.Notices())
	}
}

func TestShell_NoticesBounded(t *testing.T) {
	p := newFlaky()
	p.failList = true
	p.failKPI = true
	s := New(Options{Provider: p, MaxNotices: 3, PollInterval: time.Hour, AlertsPoll: time.Hour, Logger: zerolog.Nop()})
	defer s.Close()

	for i := 0; i < 3; i++ {
		_ = s.Load(context.Background())
	}
	if n := len(s.Notices()); n != 3 {
		t.Errorf("notices = %d, want 3", n)
	}
}

func TestShell_HandleEvent(t *testing.T) {
	rec := &recorder{}
	s := newTestShell(t, api.NewMock(), rec)
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Telemetry()["s1"]

	s.HandleEvent(update("s1", domain.Float(30), nil))
	after := s.Telemetry()["s1"]
	if after.Temperature.Current != 30 {
		t.Errorf("current = %v, want 30", after.Temperature.Current)
	}
	h := after.Temperature.History
	if len(h) != domain.HistoryLimit || h[len(h)-1].Value != 30 {
		t.Errorf("history tail = %+v", h[len(h)-1])
	}
	if h[0] != before.Temperature.History[1] {
		t.Error("oldest sample not evicted")
	}
	if after.Humidity.Current != before.Humidity.Current || len(after.Humidity.History) != len(before.Humidity.History) {
		t.Error("humidity changed without a humidity field")
	}

	s.HandleEvent(update("s99", domain.Float(30), nil))
	s.HandleEvent(domain.UpdateEvent{Type: "ping", SensorID: "s1"})
	if rec.eventCount() != 1 {
		t.Errorf("relayed %d events, want 1", rec.eventCount())
	}
}

func TestShell_SelectAndMarkers(t *testing.T) {
	p := newFlaky()
	s := newTestShell(t, p, nil)
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.SelectSensor(ctx, "nope"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("select unknown = %v", err)
	}
	if _, ok := s.Selected(); ok {
		t.Error("unknown sensor selected")
	}

	// Drift s2 away from the provider, then select it.
	s.HandleEvent(update("s2", domain.Float(99), nil))
	if err := s.ClickMarker(ctx, "s2"); err != nil {
		t.Fatal(err)
	}
	if id, _ := s.Selected(); id != "s2" {
		t.Errorf("selected = %q", id)
	}
	want, _ := p.Mock.GetSensor(ctx, "s2")
	got := s.Telemetry()["s2"]
	if got.Temperature.Current != want.Temperature.Current || len(got.Temperature.History) != len(want.Temperature.History) {
		t.Errorf("s2 telemetry not replaced: %+v", got.Temperature)
	}

	markers := s.Markers()
	if len(markers) != 5 {
		t.Fatalf("markers = %d", len(markers))
	}
	for _, m := range markers {
		if m.Selected != (m.ID == "s2") {
			t.Errorf("marker %s selected = %v", m.ID, m.Selected)
		}
		switch m.ID {
		case "s2":
			if m.Color != "#00ff00" || m.Z != 20 || m.Label != "Sensor B2" {
				t.Errorf("s2 marker = %+v", m)
			}
		case "s4":
			if m.Color != "#888888" {
				t.Errorf("s4 marker = %+v", m)
			}
		}
	}

	p.failDetail["s3"] = true
	if err := s.SelectSensor(ctx, "s3"); !errors.Is(err, errDown) {
		t.Errorf("select with failing refresh = %v", err)
	}
	if id, _ := s.Selected(); id != "s3" {
		t.Errorf("selection after failed refresh = %q, want s3", id)
	}
	s.ClearSelection()
	if _, ok := s.Selected(); ok {
		t.Error("selection not cleared")
	}
}

func TestShell_SetSection(t *testing.T) {
	s := newTestShell(t, api.NewMock(), nil)
	if s.Section() != SectionView3D {
		t.Errorf("initial section = %q", s.Section())
	}
	for _, v := range []string{"sensors", "history", "alerts", "settings", "view3d"} {
		if err := s.SetSection(v); err != nil || string(s.Section()) != v {
			t.Errorf("SetSection(%q) = %v, section %q", v, err, s.Section())
		}
	}
	if err := s.SetSection("vista3d"); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("unknown section err = %v", err)
	}
	if s.Section() != SectionView3D {
		t.Errorf("section changed by a bad value: %q", s.Section())
	}
}

func TestShell_FilterSensors(t *testing.T) {
	s := newTestShell(t, api.NewMock(), nil)
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		q    string
		want []string
	}{
		{"", []string{"s1", "s2", "s3", "s4", "s5"}},
		{"  ", []string{"s1", "s2", "s3", "s4", "s5"}},
		{"WAREHOUSE", []string{"s2"}},
		{"sensor a", []string{"s1"}},
		{"zone - o", []string{"s3"}},
		{"basement", nil},
	}
	for _, tt := range tests {
		got := s.FilterSensors(tt.q)
		var ids []string
		for _, sn := range got {
			ids = append(ids, sn.ID)
		}
		if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
			t.Errorf("FilterSensors(%q) = %v, want %v", tt.q, ids, tt.want)
		}
	}
}

func TestShell_Acknowledge(t *testing.T) {
	s := newTestShell(t, api.NewMock(), nil)
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Acknowledge(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	for _, a := range s.Alerts() {
		if a.Acknowledged != (a.ID == "a1") {
			t.Errorf("alert %s acknowledged = %v", a.ID, a.Acknowledged)
		}
	}

	if err := s.Acknowledge(ctx, "zz"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("ack unknown = %v", err)
	}
	if n := s.Notices(); len(n) != 1 || n[0].Message != "Failed to acknowledge alert" {
		t.Errorf("notices = %+v", n)
	}
}

func TestShell_AcknowledgeKeepsPolledList(t *testing.T) {
	s := newTestShell(t, api.NewMock(), nil)
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before := s.Alerts()

	// A tick lands between Load and the acknowledgement.
	polled := append(s.Alerts(), domain.Alert{ID: "a9", SensorID: "s1", Severity: domain.SeverityHigh})
	s.alerts.Set(polled)

	if err := s.Acknowledge(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	got := s.Alerts()
	if len(got) != len(polled) || got[len(got)-1].ID != "a9" {
		t.Fatalf("alerts = %+v, want the polled list kept", got)
	}
	for _, a := range got {
		if a.Acknowledged != (a.ID == "a1") {
			t.Errorf("alert %s acknowledged = %v", a.ID, a.Acknowledged)
		}
	}
	for _, a := range append(before, polled...) {
		if a.Acknowledged {
			t.Errorf("earlier snapshot changed: %+v", a)
		}
	}
}

func TestShell_State(t *testing.T) {
	s := newTestShell(t, api.NewMock(), nil)
	st := s.State()
	if st.Connection != "disconnected" || st.Connected || st.KPI != nil || st.Sensors == nil || st.Alerts == nil {
		t.Errorf("empty state = %+v", st)
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = s.State()
	if st.Unread != 2 || len(st.Sensors) != 5 || st.Section != SectionView3D {
		t.Errorf("state = %+v", st)
	}
}

func TestShell_RunReceivesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upstream := realtime.NewHub("upstream", zerolog.Nop())
	go upstream.Run(ctx)
	srv := httptest.NewServer(upstream)
	defer srv.Close()

	rec := &recorder{}
	s := New(Options{
		Provider: api.NewMock(),
		Realtime: realtime.Options{
			URL:                  "ws" + strings.TrimPrefix(srv.URL, "http"),
			AutoConnect:          true,
			ReconnectDelay:       10 * time.Millisecond,
			MaxReconnectAttempts: 2,
		},
		PollInterval: 20 * time.Millisecond,
		AlertsPoll:   time.Hour,
		Logger:       zerolog.Nop(),
		OnUpdate:     rec.onUpdate,
		OnConnection: rec.onConnection,
	})
	if err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	s.Run(ctx)

	waitFor(t, "channel connected", func() bool { return s.Channel().Connected() && upstream.Len() == 1 })

	frame, err := realtime.EncodeEvent(update("s3", nil, domain.Float(45)))
	if err != nil {
		t.Fatal(err)
	}
	upstream.Broadcast(frame)

	waitFor(t, "event applied", func() bool { return s.Telemetry()["s3"].Humidity.Current == 45 })
	if rec.eventCount() != 1 {
		t.Errorf("relayed %d events", rec.eventCount())
	}
	if ev, ok := s.Channel().LastEvent(); !ok || ev.SensorID != "s3" {
		t.Errorf("last event = %+v, %v", ev, ok)
	}

	s.Close()
	s.Close()
	if s.Channel().State() != realtime.StateDisconnected {
		t.Errorf("state after Close = %v", s.Channel().State())
	}
	if s.kpi.Running() || s.alerts.Running() {
		t.Error("pollers still running after Close")
	}
}
