package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/api"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/config"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/domain"
	"github.com/ANIKETSHETTY47/iot-sensor-dashboard/internal/realtime"
)

// Server exposes the shell to the browser as JSON plus a websocket relay.
type Server struct {
	shell *Shell
	hub   *realtime.Hub
	cfg   config.Config
	log   zerolog.Logger
}

// NewServer wires the hub callbacks, so it must be called before the hub
// runs.
func NewServer(shell *Shell, hub *realtime.Hub, cfg config.Config, logger zerolog.Logger) *Server {
	s := &Server{
		shell: shell,
		hub:   hub,
		cfg:   cfg.Redacted(),
		log:   logger.With().Str("component", "dashboard-http").Logger(),
	}
	hub.OnRegister = s.greet
	hub.OnMessage = s.forward
	return s
}

// Frame is what browsers receive on /ws besides raw sensor_update events.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (s *Server) greet(sub *realtime.Subscriber) {
	data, err := json.Marshal(Frame{Type: "state", Payload: s.shell.State()})
	if err != nil {
		s.log.Error().Err(err).Msg("encode state frame")
		return
	}
	if !sub.Enqueue(data) {
		s.log.Warn().Str("remote", sub.Remote()).Msg("state frame dropped")
	}
}

// forward passes browser frames upstream unchanged.
func (s *Server) forward(sub *realtime.Subscriber, msg []byte) {
	if !json.Valid(msg) {
		s.log.Warn().Str("remote", sub.Remote()).Msg("dropping non-JSON frame from browser")
		return
	}
	if err := s.shell.Channel().Send(json.RawMessage(msg)); err != nil {
		s.log.Warn().Err(err).Msg("forward to channel failed")
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":   "ok",
			"realtime": s.shell.Channel().State().String(),
		}
		if b, ok := s.shell.provider.(interface{ BreakerState() string }); ok {
			body["breaker"] = b.BreakerState()
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", s.hub)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/config", s.handleConfig)
		r.Put("/view/section", s.handleSection)

		r.Get("/sensors", s.handleSensors)
		r.Get("/sensors/{id}", s.handleSensor)
		r.Get("/sensors/{id}/history", s.handleHistory)
		r.Get("/sensors/{id}/history.csv", s.handleHistoryCSV)
		r.Post("/sensors/{id}/history/export", s.handleExport)
		r.Get("/sensors/{id}/history/exports", s.handleExports)

		r.Get("/markers", s.handleMarkers)
		r.Post("/markers/{id}/click", s.handleClick)

		r.Get("/kpi", s.handleKPI)
		r.Get("/alerts", s.handleAlerts)
		r.Put("/alerts/{id}/acknowledge", s.handleAcknowledge)

		r.Post("/realtime/connect", s.handleConnect)
		r.Post("/realtime/disconnect", s.handleDisconnect)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shell.State())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Section string `json:"section"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.shell.SetSection(body.Section); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"section": s.shell.Section()})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shell.FilterSensors(r.URL.Query().Get("q")))
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	d, err := s.shell.Detail(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// historyRange reads either ?range=24h or ?startDate=&endDate=.
func (s *Server) historyRange(r *http.Request) (domain.HistoryRange, error) {
	q := r.URL.Query()
	if preset := q.Get("range"); preset != "" {
		return PresetRange(preset, s.shell.opts.Now())
	}
	return domain.ParseRange(q.Get("startDate"), q.Get("endDate"))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rng, err := s.historyRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.shell.History(r.Context(), chi.URLParam(r, "id"), rng)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rng, err := s.historyRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.shell.History(r.Context(), id, rng)
	if err != nil {
		s.fail(w, err)
		return
	}
	data, err := CSV(report.Points)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+CSVFilename(id, s.shell.opts.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rng, err := s.historyRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	url, err := s.shell.ExportHistory(r.Context(), chi.URLParam(r, "id"), rng)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	keys, err := s.shell.Exports(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shell.Markers())
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.shell.ClickMarker(r.Context(), id)
	if errors.Is(err, ErrUnknownSensor) {
		s.fail(w, err)
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("sensor_id", id).Msg("selected sensor not refreshed")
	}
	d, err := s.shell.Detail(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	kpi, ok := s.shell.KPI()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "summary not loaded yet")
		return
	}
	writeJSON(w, http.StatusOK, kpi)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.shell.Alerts()
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.shell.Acknowledge(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "acknowledged": true})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.shell.Connect(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("manual connect failed")
	}
	s.writeChannel(w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.shell.Disconnect()
	s.writeChannel(w)
}

func (s *Server) writeChannel(w http.ResponseWriter) {
	ch := s.shell.Channel()
	body := map[string]any{
		"state":     ch.State().String(),
		"connected": ch.Connected(),
		"attempts":  ch.Attempts(),
	}
	if err := ch.LastError(); err != nil {
		body["lastError"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownSensor), errors.Is(err, api.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrExportDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
