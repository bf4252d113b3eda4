package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apptcal/internal/calendar"
	"apptcal/internal/config"
)

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.calls++
	return f.err
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *calendar.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	store := calendar.NewStore()
	s := NewServer(cfg, store, nil)
	s.now = func() time.Time { return time.Date(2023, 9, 24, 12, 0, 0, 0, time.UTC) }
	return s, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateWeeklyAppointment(t *testing.T) {
	s, store := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/appointments", `{
		"title": "Physio",
		"start": "2023-09-24T16:00:00",
		"duration": 1,
		"repeat": {"frequency": "weekly", "weekdays": ["TU"], "until": "2023-10-08T00:00:00"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[appointmentResponse](t, rec)
	require.Len(t, resp.Entries, 2)
	assert.NotEmpty(t, resp.Series)
	assert.Contains(t, resp.Rule, "FREQ=WEEKLY")
	assert.True(t, resp.Entries[0].Start.Equal(time.Date(2023, 9, 26, 16, 0, 0, 0, time.UTC)))
	assert.True(t, resp.Entries[1].Start.Equal(time.Date(2023, 10, 3, 16, 0, 0, 0, time.UTC)))
	assert.True(t, resp.Entries[1].End.Equal(time.Date(2023, 10, 3, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, store.Len())

	rec = do(t, h, http.MethodGet, "/api/events?from=2023-09-25T00:00&to=2023-09-30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[eventsResponse](t, rec)
	require.Len(t, events.Entries, 1)
	assert.Equal(t, "Physio", events.Entries[0].Title)
	assert.Equal(t, "UTC", events.DisplayTimeZone)
	assert.Equal(t, "monday", events.WeekStart)

	rec = do(t, h, http.MethodDelete, "/api/appointments/"+resp.Series, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, store.Len())

	rec = do(t, h, http.MethodDelete, "/api/appointments/"+resp.Series, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSingleAppointmentDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	for _, duration := range []string{`"abc"`, `null`, `""`, `"NaN"`} {
		rec := do(t, h, http.MethodPost, "/api/appointments",
			`{"title": "X", "start": "2023-09-24T17:00", "duration": `+duration+`}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[appointmentResponse](t, rec)
		require.Len(t, resp.Entries, 1, duration)
		assert.Equal(t, time.Hour, resp.Entries[0].End.Sub(resp.Entries[0].Start), duration)
		assert.Empty(t, resp.Rule)
	}

	rec := do(t, h, http.MethodPost, "/api/appointments", `{"title": "X", "start": "2023-09-24T17:00", "duration": 0}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	zero := decode[appointmentResponse](t, rec)
	require.Len(t, zero.Entries, 1)
	assert.True(t, zero.Entries[0].End.Equal(zero.Entries[0].Start))

	rec = do(t, h, http.MethodPost, "/api/appointments",
		`{"title": "X", "start": "2023-09-24T17:00", "duration": "2", "repeat": {"frequency": "no-repeat"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[appointmentResponse](t, rec)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, 2*time.Hour, resp.Entries[0].End.Sub(resp.Entries[0].Start))
}

func TestPreviewDoesNotStore(t *testing.T) {
	s, store := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/appointments/preview", `{
		"title": "Standup",
		"start": "2023-09-24T17:00:00",
		"repeat": {"frequency": "daily", "interval": 1, "count": 3}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[appointmentResponse](t, rec)
	require.Len(t, resp.Entries, 3)
	for i, e := range resp.Entries {
		assert.Equal(t, 24+i, e.Start.Day())
		assert.Equal(t, 17, e.Start.Hour())
	}
	assert.Equal(t, 0, store.Len())
}

func TestInvalidRequests(t *testing.T) {
	s, store := newTestServer(t, func(c *config.Config) { c.MaxOccurrences = 50 })
	h := s.Handler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"title":`, http.StatusBadRequest},
		{"missing start", `{"title": "x"}`, http.StatusBadRequest},
		{"bad start", `{"title": "x", "start": "tomorrow"}`, http.StatusBadRequest},
		{"empty weekday set", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "weekly", "weekdays": [], "count": 2}}`, http.StatusUnprocessableEntity},
		{"zero interval", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "daily", "interval": 0, "count": 3}}`, http.StatusUnprocessableEntity},
		{"unknown weekday", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "weekly", "weekdays": ["XX"], "count": 2}}`, http.StatusUnprocessableEntity},
		{"unbounded", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "daily"}}`, http.StatusUnprocessableEntity},
		{"unsupported frequency", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "monthly", "count": 2}}`, http.StatusUnprocessableEntity},
		{"over the cap", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "daily", "until": "2030-01-01"}}`, http.StatusUnprocessableEntity},
		{"bad until", `{"title": "x", "start": "2023-09-24T16:00", "repeat": {"frequency": "daily", "until": "soon"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/appointments", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Equal(t, 0, store.Len())

	rec := do(t, h, http.MethodGet, "/api/events?from=2023-10-01&to=2023-09-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentsInConfiguredZone(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.Timezone = "Pacific/Auckland" })

	// Daily at 17:00 across the 2023-09-24 daylight-saving start.
	rec := do(t, s.Handler(), http.MethodPost, "/api/appointments/preview", `{
		"title": "Walk",
		"start": "2023-09-23T17:00",
		"repeat": {"frequency": "daily", "count": 3}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[appointmentResponse](t, rec)
	require.Len(t, resp.Entries, 3)

	auckland, err := time.LoadLocation("Pacific/Auckland")
	require.NoError(t, err)
	for _, e := range resp.Entries {
		assert.Equal(t, 17, e.Start.In(auckland).Hour())
	}
	// Same wall clock, different UTC offsets.
	assert.Equal(t, 5, resp.Entries[0].Start.UTC().Hour())
	assert.Equal(t, 4, resp.Entries[2].Start.UTC().Hour())
}

func TestTimezonesAndHealth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) { c.Timezones = []string{"Pacific/Auckland", "UTC"} })
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/timezones", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Pacific/Auckland", "UTC"}, decode[[]string](t, rec))

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestExports(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/appointments", `{"title": "X", "start": "2023-09-24T17:00:00", "duration": 2}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/export.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	exported := decode[[]calendar.ExportedEntry](t, rec)
	require.Len(t, exported, 1)
	assert.Equal(t, "2023-09-24T17:00:00Z", exported[0].Start)
	assert.Equal(t, "2023-09-24T19:00:00Z", exported[0].End)

	rec = do(t, h, http.MethodGet, "/api/export.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "SUMMARY:X")
	assert.Contains(t, rec.Body.String(), "20230924T170000Z")
}

func TestRefresh(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	feeds := &fakeRefresher{}
	s.feeds = feeds
	rec = do(t, s.Handler(), http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, feeds.calls)

	feeds.err = errors.New("feed team: 500 Internal Server Error")
	rec = do(t, s.Handler(), http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "amy", Password: "secret"}
	})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/timezones", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/timezones", nil)
	req.SetBasicAuth("amy", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseLocalTime(t *testing.T) {
	nz := time.FixedZone("NZST", 12*3600)

	got, err := parseLocalTime("2023-09-24T16:00", nz)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 9, 24, 16, 0, 0, 0, nz), got)

	got, err = parseLocalTime("2023-09-24T16:00:00Z", nz)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Hour())
	assert.Equal(t, 25, got.Day())

	_, err = parseLocalTime("24/09/2023", nz)
	assert.Error(t, err)
}
