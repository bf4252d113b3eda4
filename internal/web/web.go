package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"apptcal/internal/appointment"
	"apptcal/internal/calendar"
	"apptcal/internal/config"
	"apptcal/internal/ics"
	appLog "apptcal/internal/log"
	"apptcal/internal/model"
	"apptcal/internal/recurrence"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// Refresher re-imports subscribed feeds on demand.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Server provides the JSON API the scheduling UI talks to.
type Server struct {
	cfg   *config.Config
	loc   *time.Location
	store *calendar.Store
	mat   appointment.Materializer
	feeds Refresher
	mux   *http.ServeMux

	now func() time.Time
}

// NewServer constructs a Server over store. feeds may be nil when no ICS
// subscriptions are configured.
func NewServer(cfg *config.Config, store *calendar.Store, feeds Refresher) *Server {
	s := &Server{
		cfg:   cfg,
		loc:   cfg.Location(),
		store: store,
		mat: appointment.Materializer{
			Expander:        recurrence.Expander{MaxOccurrences: cfg.MaxOccurrences},
			DefaultDuration: cfg.DefaultDurationHours,
		},
		feeds: feeds,
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Blank credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="apptcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/timezones", s.handleTimezones)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/appointments", s.handleCreateAppointment)
	s.mux.HandleFunc("POST /api/appointments/preview", s.handlePreviewAppointment)
	s.mux.HandleFunc("DELETE /api/appointments/{series}", s.handleDeleteAppointment)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/export.json", s.handleExportJSON)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleTimezones serves the advisory list behind the timezone selector.
// It does not influence recurrence math.
func (s *Server) handleTimezones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Timezones)
}

// entryDTO is the JSON view of a calendar entry.
type entryDTO struct {
	Series string    `json:"series"`
	Source string    `json:"source"`
	UID    string    `json:"uid,omitempty"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

type eventsResponse struct {
	Entries         []entryDTO `json:"entries"`
	RangeStart      time.Time  `json:"range_start"`
	RangeEnd        time.Time  `json:"range_end"`
	DisplayTimeZone string     `json:"display_timezone"`
	WeekStart       string     `json:"week_start"`
}

func toDTOs(entries []model.Entry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO{
			Series: e.SeriesID,
			Source: e.Source,
			UID:    e.UID,
			Title:  e.Title,
			Start:  e.Start,
			End:    e.End,
		})
	}
	return out
}

// handleEvents returns stored entries overlapping a window.
//
// GET /api/events?from=2023-09-24T00:00&to=2023-10-01T00:00
//
// Both bounds are wall-clock values in the configured timezone (an
// explicit offset is honored). Defaults: from = now-1d, to = now+horizon.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now().In(s.loc)

	from := now.AddDate(0, 0, -1)
	if v := q.Get("from"); v != "" {
		t, err := parseLocalTime(v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		from = t
	}
	to := now.AddDate(0, 0, s.cfg.HorizonDays)
	if v := q.Get("to"); v != "" {
		t, err := parseLocalTime(v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Entries:         toDTOs(s.store.List(from, to)),
		RangeStart:      from,
		RangeEnd:        to,
		DisplayTimeZone: s.loc.String(),
		WeekStart:       s.cfg.WeekStart,
	})
}

type appointmentResponse struct {
	Series  string     `json:"series"`
	Rule    string     `json:"rule,omitempty"`
	Entries []entryDTO `json:"entries"`
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	s.materializeRequest(w, r, true)
}

func (s *Server) handlePreviewAppointment(w http.ResponseWriter, r *http.Request) {
	s.materializeRequest(w, r, false)
}

func (s *Server) materializeRequest(w http.ResponseWriter, r *http.Request, store bool) {
	var req appointmentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	appt, err := req.toAppointment(s.loc, s.cfg.WeekStartValue())
	if err != nil {
		writeRequestError(w, err)
		return
	}

	entries, err := s.mat.Materialize(appt)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	resp := appointmentResponse{Entries: toDTOs(entries)}
	if len(entries) > 0 {
		resp.Series = entries[0].SeriesID
	}
	if spec, ok := appt.Recurrence.Get(); ok {
		spec.Start = appt.Start
		resp.Rule = spec.String()
	}

	if !store {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	s.store.Add(entries...)
	appLog.Info("appointment created",
		"title", appt.Title,
		"start", appt.Start,
		"rule", resp.Rule,
		"entries", len(entries),
		"series", resp.Series,
	)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	series := r.PathValue("series")
	n := s.store.Remove(series)
	if n == 0 {
		writeError(w, http.StatusNotFound, "unknown series")
		return
	}
	appLog.Info("appointment deleted", "series", series, "entries", n)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.feeds == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no feeds configured"})
		return
	}
	if err := s.feeds.Refresh(r.Context()); err != nil {
		appLog.Error("api refresh: one or more feeds failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExportJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="appointments.json"`)
	if err := calendar.WriteJSON(w, s.store.All()); err != nil {
		appLog.Error("failed to write JSON export", err)
	}
}

func (s *Server) handleExportICS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="appointments.ics"`)
	_, _ = w.Write([]byte(ics.Export(s.store.All(), s.now())))
}

// writeRequestError maps invalid specs to 422 and any other input problem
// to 400.
func writeRequestError(w http.ResponseWriter, err error) {
	if errors.Is(err, recurrence.ErrInvalidSpec) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
