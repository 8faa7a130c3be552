package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/keygate/internal/config"
	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmehdipour/keygate/internal/repository"
	"github.com/jmehdipour/keygate/internal/service/credential"
	"github.com/jmehdipour/keygate/internal/sweeper"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminKey = "s3cret-admin"

type mockEvents struct{ mock.Mock }

func (m *mockEvents) InsertBatch(ctx context.Context, events []model.Event) error {
	return m.Called(ctx, events).Error(0)
}

func (m *mockEvents) List(ctx context.Context, f repository.EventFilter) ([]model.Event, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]model.Event), args.Error(1)
}

func (m *mockEvents) CountByType(ctx context.Context, since time.Time) ([]repository.TypeCount, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]repository.TypeCount), args.Error(1)
}

type testServer struct {
	srv    *Server
	svc    *credential.Service
	mr     *miniredis.Miniredis
	events *mockEvents
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{}
	cfg.Credentials.KeyPrefix = "test:"
	cfg.Admin.MasterKey = adminKey
	cfg.Admin.FailedAttempts = 3
	cfg.Admin.Window = 15 * time.Minute
	cfg.Admin.Lockout = 30 * time.Minute
	for _, m := range mutate {
		m(&cfg)
	}

	svc := credential.New(repository.NewCredentialsRepository(rdb, cfg.Credentials.KeyPrefix), zap.NewNop())
	sw := sweeper.New(svc, zap.NewNop(), sweeper.Schedule{})
	events := &mockEvents{}

	srv := NewServer(Deps{
		Config:      cfg,
		Redis:       rdb,
		Credentials: svc,
		Sweeper:     sw,
		Events:      events,
		Log:         zap.NewNop(),
	})
	return &testServer{srv: srv, svc: svc, mr: mr, events: events}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admin(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	return ts.do(t, method, path, body, map[string]string{"X-Admin-Key": adminKey})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const issueBody = `{"owner_name":"Lotus Store","contact_name":"Ahmet Yilmaz","contact_phone":"0532 123 45 67","term":"1_month"}`

func (ts *testServer) issue(t *testing.T) string {
	t.Helper()
	rec := ts.admin(t, http.MethodPost, "/admin/credentials", issueBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Details](t, rec).FullKey
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.mr.Close()
	rec = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIssueAndManageCredential(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodPost, "/admin/credentials", issueBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[model.Details](t, rec)
	require.NotEmpty(t, d.FullKey)
	assert.Equal(t, "+905321234567", d.ContactPhone)
	assert.True(t, d.Active)
	id := d.FullKey

	// redacted by default
	rec = ts.admin(t, http.MethodGet, "/admin/credentials", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Count   int          `json:"count"`
		Results []model.View `json:"results"`
	}](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Empty(t, list.Results[0].FullKey)
	assert.Equal(t, model.KeyPrefix(id, 8), list.Results[0].Key)

	rec = ts.admin(t, http.MethodGet, "/admin/credentials?full=true", "")
	assert.Contains(t, rec.Body.String(), id)

	rec = ts.admin(t, http.MethodPut, "/admin/credentials/"+id, `{"owner_name":"Lotus Holding"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Lotus Holding", decode[model.Details](t, rec).OwnerName)

	rec = ts.admin(t, http.MethodPatch, "/admin/credentials/"+id+"/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.admin(t, http.MethodGet, "/admin/credentials/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusDeactivated, decode[model.Details](t, rec).Status)

	rec = ts.admin(t, http.MethodPatch, "/admin/credentials/"+id+"/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.admin(t, http.MethodDelete, "/admin/credentials/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.admin(t, http.MethodGet, "/admin/credentials/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCredentialErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodPost, "/admin/credentials", `{"owner_name":"A","contact_phone":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Len(t, body["violations"], 3)

	rec = ts.admin(t, http.MethodPost, "/admin/credentials",
		`{"owner_name":"Lotus","contact_name":"Ahmet","contact_phone":"05321234567","subscription_start":"2020-01-01T00:00:00Z","subscription_end":"2020-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "end_not_after_start", decode[map[string]any](t, rec)["rule"])

	rec = ts.admin(t, http.MethodPost, "/admin/credentials",
		`{"owner_name":"Lotus","contact_name":"Ahmet","contact_phone":"05321234567","term":"forever"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	dup := `{"id":"fixed-key","owner_name":"Lotus","contact_name":"Ahmet","contact_phone":"05321234567"}`
	rec = ts.admin(t, http.MethodPost, "/admin/credentials", dup)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.admin(t, http.MethodPost, "/admin/credentials", dup)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/admin/credentials/missing", ""},
		{http.MethodPut, "/admin/credentials/missing", `{}`},
		{http.MethodPatch, "/admin/credentials/missing/activate", ""},
		{http.MethodPatch, "/admin/credentials/missing/deactivate", ""},
		{http.MethodDelete, "/admin/credentials/missing", ""},
	} {
		rec = ts.admin(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
	}

	ts.mr.Close()
	rec = ts.admin(t, http.MethodGet, "/admin/credentials", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientAPI(t *testing.T) {
	ts := newTestServer(t)
	id := ts.issue(t)

	rec := ts.do(t, http.MethodGet, "/v1/credential", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/credential", "", map[string]string{"X-API-Key": "nope"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["reason"])

	rec = ts.do(t, http.MethodGet, "/v1/credential", "", map[string]string{"X-API-Key": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[model.ValidationResult](t, rec)
	assert.True(t, res.Valid)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 1, res.Summary.DailyRequests)

	rec = ts.do(t, http.MethodGet, "/v1/credential", "", map[string]string{"Authorization": "Bearer " + id})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/v1/credential?apiKey="+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/v1/credential/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[model.ValidationResult](t, rec).Summary.DailyRequests)

	_, err := ts.svc.Deactivate(context.Background(), id)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/v1/credential", "", map[string]string{"X-API-Key": id})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "inactive", decode[map[string]string](t, rec)["reason"])
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/credentials", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// basic auth works too
	req := httptest.NewRequest(http.MethodGet, "/admin/credentials", nil)
	req.SetBasicAuth("admin", adminKey)
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	for i := 0; i < 3; i++ {
		rec = ts.do(t, http.MethodGet, "/admin/credentials", "", map[string]string{"X-Admin-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// locked out, even with the right key
	rec = ts.admin(t, http.MethodGet, "/admin/credentials", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	ts.mr.FastForward(31 * time.Minute)
	rec = ts.admin(t, http.MethodGet, "/admin/credentials", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuth_DisabledAndAllowList(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Admin.MasterKey = "" })
	rec := ts.admin(t, http.MethodGet, "/admin/credentials", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts = newTestServer(t, func(c *config.Config) { c.Admin.AllowedIPs = []string{"10.0.0.1"} })
	rec = ts.admin(t, http.MethodGet, "/admin/credentials", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/credentials", "", map[string]string{
		"X-Admin-Key": adminKey,
		"X-Real-IP":   "10.0.0.1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSweepRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.issue(t)

	rec := ts.admin(t, http.MethodPost, "/admin/sweeps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[sweeper.Result](t, rec)
	assert.Equal(t, 1, res.Checked)
	assert.Zero(t, res.Deactivated)

	rec = ts.admin(t, http.MethodGet, "/admin/sweeps/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[sweeper.Stats](t, rec)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Active)
	require.NotNil(t, st.LastRun)
}

func TestEventReports(t *testing.T) {
	ts := newTestServer(t)

	ts.events.On("List", mock.Anything, mock.MatchedBy(func(f repository.EventFilter) bool {
		return f.Credential == model.Fingerprint("some-key") && f.Type == model.EventRejected && f.Limit == 10
	})).Return([]model.Event{{ID: "e1", Type: model.EventRejected}}, nil).Once()

	rec := ts.admin(t, http.MethodGet, "/admin/reports/events?key=some-key&type=rejected&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["count"])

	rec = ts.admin(t, http.MethodGet, "/admin/reports/events?type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(t, http.MethodGet, "/admin/reports/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.events.On("CountByType", mock.Anything, mock.Anything).
		Return([]repository.TypeCount{{Type: model.EventValidated, Count: 42}}, nil).Once()
	rec = ts.admin(t, http.MethodGet, "/admin/reports/events/summary?since=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":42`)

	ts.events.AssertExpectations(t)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	got, ok := parseSince("", now)
	assert.True(t, ok)
	assert.True(t, got.IsZero())

	got, ok = parseSince("24h", now)
	assert.True(t, ok)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, ok = parseSince("2025-01-01T00:00:00Z", now)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got)

	_, ok = parseSince("-1h", now)
	assert.False(t, ok)
}
