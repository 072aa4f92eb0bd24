package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/api"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
)

type fakeExporter struct {
	key         string
	data        []byte
	contentType string
	err         error

	stored     []string
	listPrefix string
	listErr    error
}

func (f *fakeExporter) UploadExport(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.key, f.data, f.contentType = key, data, contentType
	f.stored = append(f.stored, key)
	return "https://exports.example.com/" + key, nil
}

func (f *fakeExporter) ListExports(_ context.Context, prefix string) ([]string, error) {
	f.listPrefix = prefix
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for i := len(f.stored) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.stored[i], prefix) {
			keys = append(keys, f.stored[i])
		}
	}
	return keys, nil
}

// uploadOnly hides ListExports.
type uploadOnly struct{ Exporter }

var exportAt = time.Date(2024, 11, 7, 10, 30, 0, 0, time.UTC)

func newExportShell(t *testing.T, exp Exporter) *Shell {
	t.Helper()
	s := New(Options{
		Provider:     api.NewMock(),
		PollInterval: time.Hour,
		AlertsPoll:   time.Hour,
		Exporter:     exp,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return exportAt },
	})
	t.Cleanup(s.Close)
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPresetRange(t *testing.T) {
	now := time.Date(2024, 11, 7, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		preset string
		span   time.Duration
	}{
		{"1h", time.Hour},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		rng, err := PresetRange(tt.preset, now)
		if err != nil {
			t.Fatalf("%s: %v", tt.preset, err)
		}
		if !rng.End.Equal(now) || rng.End.Sub(rng.Start) != tt.span {
			t.Errorf("%s = %+v", tt.preset, rng)
		}
	}
	if rng, err := PresetRange("", now); err != nil || !rng.Start.IsZero() || !rng.End.IsZero() {
		t.Errorf("empty preset = %+v, %v", rng, err)
	}
	if _, err := PresetRange("2w", now); err == nil {
		t.Error("unknown preset accepted")
	}
}

func TestStats(t *testing.T) {
	pts := []domain.HistoryPoint{
		{Timestamp: exportAt, Temperature: 22, Humidity: 60},
		{Timestamp: exportAt.Add(time.Hour), Temperature: 24, Humidity: 61},
	}
	if got, want := Stats(pts), (HistoryStats{AvgTemperature: 23, AvgHumidity: 60.5, Points: 2}); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
	if got := Stats(nil); got != (HistoryStats{}) {
		t.Errorf("Stats(nil) = %+v", got)
	}
}

func TestCSV(t *testing.T) {
	pts := []domain.HistoryPoint{
		{Timestamp: exportAt, Temperature: 22.5, Humidity: 65},
		{Timestamp: exportAt.Add(time.Hour), Temperature: 23.1, Humidity: 64.8},
	}
	data, err := CSV(pts)
	if err != nil {
		t.Fatal(err)
	}
	want := "Timestamp,Temperature (C),Humidity (%)\n" +
		"2024-11-07T10:30:00Z,22.5,65\n" +
		"2024-11-07T11:30:00Z,23.1,64.8\n"
	if string(data) != want {
		t.Errorf("CSV =\n%s\nwant\n%s", data, want)
	}

	data, err = CSV(nil)
	if err != nil || string(data) != "Timestamp,Temperature (C),Humidity (%)\n" {
		t.Errorf("empty CSV = %q, %v", data, err)
	}
}

func TestCSVFilename(t *testing.T) {
	if got := CSVFilename("s1", exportAt); got != "sensor_s1_history_20241107T103000Z.csv" {
		t.Errorf("CSVFilename = %q", got)
	}
}

func TestShell_History(t *testing.T) {
	s := newExportShell(t, nil)
	ctx := context.Background()

	report, err := s.History(ctx, "s1", domain.HistoryRange{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Points) != 24 || report.Stats.Points != 24 || report.SensorID != "s1" {
		t.Errorf("report = %d points, stats %+v", len(report.Points), report.Stats)
	}
	if report.Stats.AvgTemperature < 20 || report.Stats.AvgTemperature > 25 {
		t.Errorf("avg temperature = %v", report.Stats.AvgTemperature)
	}

	if _, err := s.History(ctx, "nope", domain.HistoryRange{}); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("unknown sensor = %v", err)
	}
}

func TestShell_ExportHistory(t *testing.T) {
	exp := &fakeExporter{}
	s := newExportShell(t, exp)

	url, err := s.ExportHistory(context.Background(), "s2", domain.HistoryRange{})
	if err != nil {
		t.Fatal(err)
	}
	if exp.key != "exports/s2/sensor_s2_history_20241107T103000Z.csv" || exp.contentType != "text/csv" {
		t.Errorf("uploaded %q as %q", exp.key, exp.contentType)
	}
	if url != "https://exports.example.com/"+exp.key {
		t.Errorf("url = %q", url)
	}
	if lines := strings.Count(string(exp.data), "\n"); lines != 25 {
		t.Errorf("csv lines = %d, want header plus 24", lines)
	}
	if n := s.Notices(); len(n) != 1 || n[0].Level != "success" {
		t.Errorf("notices = %+v", n)
	}

	exp.err = errors.New("bucket gone")
	if _, err := s.ExportHistory(context.Background(), "s2", domain.HistoryRange{}); err == nil {
		t.Error("failed upload reported success")
	}
	if n := s.Notices(); len(n) != 2 || n[1].Level != "error" {
		t.Errorf("notices = %+v", n)
	}
}

func TestShell_ExportHistoryDisabled(t *testing.T) {
	s := newExportShell(t, nil)
	if _, err := s.ExportHistory(context.Background(), "s1", domain.HistoryRange{}); !errors.Is(err, ErrExportDisabled) {
		t.Errorf("err = %v, want ErrExportDisabled", err)
	}
}

func TestShell_Exports(t *testing.T) {
	exp := &fakeExporter{}
	s := newExportShell(t, exp)
	ctx := context.Background()

	keys, err := s.Exports(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if keys == nil || len(keys) != 0 {
		t.Errorf("keys before any export = %#v, want empty", keys)
	}
	if exp.listPrefix != "exports/s2/" {
		t.Errorf("listed prefix %q", exp.listPrefix)
	}

	exp.stored = []string{
		"exports/s2/sensor_s2_history_20241108T090000Z.csv",
		"exports/s1/sensor_s1_history_20241107T103000Z.csv",
		"exports/s2/sensor_s2_history_20241107T103000Z.csv",
	}
	keys, err = s.Exports(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"exports/s2/sensor_s2_history_20241107T103000Z.csv",
		"exports/s2/sensor_s2_history_20241108T090000Z.csv",
	}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("keys = %v, want %v", keys, want)
	}

	if _, err := s.Exports(ctx, "nope"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("unknown sensor err = %v", err)
	}

	exp.listErr = errors.New("bucket gone")
	if _, err := s.Exports(ctx, "s2"); err == nil {
		t.Error("failed listing reported success")
	}
	if n := s.Notices(); len(n) != 1 || n[0].Message != "Failed to list exports" {
		t.Errorf("notices = %+v", n)
	}
}

func TestShell_ExportsWithoutLister(t *testing.T) {
	for name, exp := range map[string]Exporter{"none": nil, "upload only": uploadOnly{&fakeExporter{}}} {
		s := newExportShell(t, exp)
		if _, err := s.Exports(context.Background(), "s1"); !errors.Is(err, ErrExportDisabled) {
			t.Errorf("%s: err = %v, want ErrExportDisabled", name, err)
		}
	}
}
