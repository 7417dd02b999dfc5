// ABOUTME: Tests for server lifecycle, health recording and statistics
// ABOUTME: Runs against MockStore with a fixed clock

package registry

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-gateway/internal/errs"
	"github.com/2389/mcp-gateway/internal/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *store.MockStore) {
	t.Helper()
	ms := store.NewMockStore()
	return New(ms, cfg, WithClock(func() time.Time { return testNow })), ms
}

func register(t *testing.T, r *Registry, org, name string) *store.Server {
	t.Helper()
	srv, err := r.Create(context.Background(), RegisterRequest{
		Name:           name,
		URL:            "https://mcp.example.com/" + strings.ReplaceAll(name, " ", "-"),
		OrganizationID: org,
		CreatedBy:      "alice",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return srv
}

func TestCreateAppliesDefaults(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	srv := register(t, r, "org-1", "weather")

	assert.NotEmpty(t, srv.ID)
	assert.Equal(t, store.ServerTypeHTTP, srv.ServerType)
	assert.Equal(t, store.AuthNone, srv.AuthType)
	assert.Equal(t, store.StatusUnknown, srv.Status)
	assert.True(t, srv.IsActive)
}

func TestCreateValidation(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"empty name", RegisterRequest{Name: "", URL: "https://a.example.com"}},
		{"long name", RegisterRequest{Name: strings.Repeat("n", 101), URL: "https://a.example.com"}},
		{"bad characters", RegisterRequest{Name: "weather/v2", URL: "https://a.example.com"}},
		{"long description", RegisterRequest{Name: "ok", Description: strings.Repeat("d", 1001), URL: "https://a.example.com"}},
		{"relative url", RegisterRequest{Name: "ok", URL: "/mcp"}},
		{"ftp url", RegisterRequest{Name: "ok", URL: "ftp://a.example.com"}},
		{"ws url for http server", RegisterRequest{Name: "ok", URL: "wss://a.example.com"}},
		{"unknown server type", RegisterRequest{Name: "ok", URL: "https://a.example.com", ServerType: "grpc"}},
		{"unknown auth type", RegisterRequest{Name: "ok", URL: "https://a.example.com", AuthType: "kerberos"}},
		{"invalid capabilities", RegisterRequest{Name: "ok", URL: "https://a.example.com", Capabilities: json.RawMessage("{")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.OrganizationID = "org-1"
			_, err := r.Create(ctx, tt.req)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestCreateWebSocketURL(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	_, err := r.Create(context.Background(), RegisterRequest{
		Name:           "stream",
		URL:            "wss://stream.example.com/mcp",
		ServerType:     store.ServerTypeWebSocket,
		OrganizationID: "org-1",
	})
	require.NoError(t, err)
}

func TestNameUniquePerOrganization(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	register(t, r, "org-1", "weather")

	_, err := r.Create(ctx, RegisterRequest{Name: "weather", URL: "https://b.example.com", OrganizationID: "org-1"})
	assert.ErrorIs(t, err, errs.ErrConflict)

	other, err := r.Create(ctx, RegisterRequest{Name: "weather", URL: "https://b.example.com", OrganizationID: "org-2"})
	require.NoError(t, err)
	assert.Equal(t, "org-2", other.OrganizationID)
}

func TestGetHidesOtherOrganizations(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "weather")

	_, err := r.Get(ctx, "org-2", srv.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	got, err := r.Get(ctx, "org-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "weather", got.Name)

	_, err = r.Get(ctx, "org-1", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "weather")
	register(t, r, "org-1", "news")

	desc := "forecasts"
	updated, err := r.Update(ctx, "org-1", srv.ID, "alice", UpdateRequest{
		Description:    &desc,
		ConnectionInfo: &ConnectionInfo{TimeoutSeconds: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "forecasts", updated.Description)

	ci, err := DecodeConnectionInfo(updated)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ci.Timeout(30*time.Second))

	taken := "news"
	_, err = r.Update(ctx, "org-1", srv.ID, "alice", UpdateRequest{Name: &taken})
	assert.ErrorIs(t, err, errs.ErrConflict)

	badURL := "not a url"
	_, err = r.Update(ctx, "org-1", srv.ID, "alice", UpdateRequest{URL: &badURL})
	assert.ErrorIs(t, err, errs.ErrValidation)

	same := "weather"
	_, err = r.Update(ctx, "org-1", srv.ID, "alice", UpdateRequest{Name: &same})
	require.NoError(t, err)
}

func TestGetActive(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "weather")

	_, err := r.GetActive(ctx, "org-1", srv.ID)
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(ctx, "org-1", srv.ID, "alice"))
	_, err = r.GetActive(ctx, "org-1", srv.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, r.Activate(ctx, "org-1", srv.ID, "alice"))
	got, err := r.GetActive(ctx, "org-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnknown, got.Status)
}

func TestRecordHealthCheckDrivesStatus(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "weather")

	probe := func(i int, status store.ServerStatus) store.ServerStatus {
		t.Helper()
		next, err := r.RecordHealthCheck(ctx, &store.HealthCheck{
			ServerID:  srv.ID,
			Status:    status,
			CheckedAt: testNow.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordHealthCheck failed: %v", err)
		}
		return next
	}

	assert.Equal(t, store.StatusUnknown, probe(1, H))
	assert.Equal(t, store.StatusHealthy, probe(2, H))
	assert.Equal(t, store.StatusDegraded, probe(3, U))
	assert.Equal(t, store.StatusDegraded, probe(4, U))
	assert.Equal(t, store.StatusUnhealthy, probe(5, U))
	assert.Equal(t, store.StatusUnhealthy, probe(6, H))
	assert.Equal(t, store.StatusDegraded, probe(7, H))

	latest, err := r.LatestHealth(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, H, latest.Status)

	hist, err := r.HealthHistory(ctx, srv.ID, testNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, hist, 3)

	got, err := r.Get(ctx, "", srv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHealthCheck)
	assert.True(t, got.LastHealthCheck.Equal(testNow.Add(7*time.Minute)))
}

func TestRecordHealthCheckRejectsBadInput(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()

	_, err := r.RecordHealthCheck(ctx, &store.HealthCheck{ServerID: "x", Status: store.StatusUnknown})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = r.RecordHealthCheck(ctx, &store.HealthCheck{ServerID: "missing", Status: H})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = r.LatestHealth(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStatistics(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "weather")
	from := testNow.Add(-time.Hour)

	empty, err := r.Statistics(ctx, srv.ID, from, testNow)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalRequests)
	assert.Zero(t, empty.SuccessRate)

	for i, ok := range []bool{true, true, true, false} {
		require.NoError(t, r.RecordExecution(ctx, &store.ToolExecution{
			ServerID:   srv.ID,
			ToolName:   "forecast",
			Success:    ok,
			DurationMs: 100,
			ExecutedAt: from.Add(time.Duration(i+1) * time.Minute),
		}))
	}

	st, err := r.Statistics(ctx, srv.ID, from, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.TotalRequests)
	assert.Equal(t, int64(1), st.FailedRequests)
	assert.InDelta(t, 75.0, st.SuccessRate, 0.001)
	assert.InDelta(t, 100.0, st.AvgResponseTimeMs, 0.001)
	assert.LessOrEqual(t, st.SuccessfulRequests+st.FailedRequests, st.TotalRequests)

	life, err := r.LifetimeStatistics(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), life.TotalRequests)

	_, err = r.Statistics(ctx, srv.ID, testNow, from)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDeletePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("reject keeps servers with history", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DeletePolicy = DeleteReject
		r, _ := newTestRegistry(t, cfg)
		srv := register(t, r, "org-1", "weather")
		_, err := r.RecordHealthCheck(ctx, &store.HealthCheck{ServerID: srv.ID, Status: H})
		require.NoError(t, err)

		err = r.Delete(ctx, "org-1", srv.ID, "alice")
		assert.ErrorIs(t, err, errs.ErrConflict)

		fresh := register(t, r, "org-1", "fresh")
		require.NoError(t, r.Delete(ctx, "org-1", fresh.ID, "alice"))
	})

	t.Run("cascade removes history", func(t *testing.T) {
		r, ms := newTestRegistry(t, DefaultConfig())
		srv := register(t, r, "org-1", "weather")
		_, err := r.RecordHealthCheck(ctx, &store.HealthCheck{ServerID: srv.ID, Status: H})
		require.NoError(t, err)

		require.NoError(t, r.Delete(ctx, "org-1", srv.ID, "alice"))
		checks, err := ms.RecentHealthChecks(ctx, srv.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, checks)

		err = r.Delete(ctx, "org-1", srv.ID, "alice")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestBulkOperationsCountOnlyOwnedServers(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	a := register(t, r, "org-1", "a")
	b := register(t, r, "org-1", "b")
	foreign := register(t, r, "org-2", "c")

	ids := []string{a.ID, b.ID, foreign.ID, "missing", a.ID}
	n, err := r.BulkUpdateStatus(ctx, "org-1", ids, store.StatusDeactivated, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.LessOrEqual(t, n, int64(len(ids)))

	_, err = r.BulkUpdateStatus(ctx, "org-1", ids, "sleeping", "alice")
	assert.ErrorIs(t, err, errs.ErrValidation)

	n, err = r.BulkDelete(ctx, "org-1", ids, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := r.Exists(ctx, "org-2", foreign.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeactivateStale(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	stale := register(t, r, "org-1", "stale")
	fresh := register(t, r, "org-1", "fresh")

	future := time.Now().Add(time.Hour)
	_, err := r.RecordHealthCheck(ctx, &store.HealthCheck{ServerID: fresh.ID, Status: H, CheckedAt: future.Add(time.Minute)})
	require.NoError(t, err)

	n, err := r.DeactivateStale(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.GetActive(ctx, "org-1", stale.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.GetActive(ctx, "org-1", fresh.ID)
	require.NoError(t, err)
}

func TestListValidatesFilter(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	register(t, r, "org-1", "weather")
	register(t, r, "org-1", "news")

	servers, total, err := r.List(ctx, store.ServerFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, servers, 2)

	bad := store.ServerStatus("sleeping")
	_, _, err = r.List(ctx, store.ServerFilter{Status: &bad})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

// racingStore runs hook once, right before the first status or server write
// reaches the store, standing in for a request that lands in between.
type racingStore struct {
	*store.MockStore
	hook func()
}

func (s *racingStore) fire() {
	if h := s.hook; h != nil {
		s.hook = nil
		h()
	}
}

func (s *racingStore) UpdateServer(ctx context.Context, srv *store.Server) error {
	s.fire()
	return s.MockStore.UpdateServer(ctx, srv)
}

func (s *racingStore) SetServerStatus(ctx context.Context, id string, from, to store.ServerStatus, checkedAt *time.Time) (bool, error) {
	s.fire()
	return s.MockStore.SetServerStatus(ctx, id, from, to, checkedAt)
}

func newRacingRegistry(t *testing.T, cfg Config) (*Registry, *racingStore) {
	t.Helper()
	rs := &racingStore{MockStore: store.NewMockStore()}
	return New(rs, cfg, WithClock(func() time.Time { return testNow })), rs
}

func TestUpdateKeepsConcurrentDeactivation(t *testing.T) {
	r, rs := newRacingRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "search")

	rs.hook = func() {
		require.NoError(t, r.Deactivate(ctx, "org-1", srv.ID, "bob"))
	}
	desc := "edited"
	_, err := r.Update(ctx, "org-1", srv.ID, "alice", UpdateRequest{Description: &desc})
	require.NoError(t, err)

	got, err := r.Get(ctx, "org-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Description)
	assert.Equal(t, store.StatusDeactivated, got.Status)
	assert.False(t, got.IsActive)

	_, err = r.GetActive(ctx, "org-1", srv.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRecordHealthCheckKeepsConcurrentDeactivation(t *testing.T) {
	r, rs := newRacingRegistry(t, Config{HealthyThreshold: 1})
	ctx := context.Background()
	srv := register(t, r, "org-1", "search")

	rs.hook = func() {
		require.NoError(t, r.Deactivate(ctx, "org-1", srv.ID, "bob"))
	}
	next, err := r.RecordHealthCheck(ctx, &store.HealthCheck{ServerID: srv.ID, Status: H})
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeactivated, next)

	got, err := r.Get(ctx, "org-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeactivated, got.Status)
	require.NotNil(t, got.LastHealthCheck)
	assert.True(t, got.LastHealthCheck.Equal(testNow))
}

func TestActivateAfterDeactivate(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "search")

	require.NoError(t, r.Deactivate(ctx, "org-1", srv.ID, "alice"))
	_, err := r.GetActive(ctx, "org-1", srv.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, r.Activate(ctx, "org-1", srv.ID, "alice"))
	got, err := r.GetActive(ctx, "org-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnknown, got.Status)

	assert.ErrorIs(t, r.Deactivate(ctx, "org-2", srv.ID, "carol"), errs.ErrNotFound)

	_, err = r.BulkUpdateStatus(ctx, "org-1", []string{srv.ID}, store.StatusHealthy, "alice")
	assert.ErrorIs(t, err, errs.ErrValidation, "health statuses are never assigned directly")
}

func TestRestoreUndoesUpdate(t *testing.T) {
	r, _ := newTestRegistry(t, DefaultConfig())
	ctx := context.Background()
	srv := register(t, r, "org-1", "search")
	prev, err := r.Get(ctx, "org-1", srv.ID)
	require.NoError(t, err)

	bearer := store.AuthBearer
	name := "renamed"
	_, err = r.Update(ctx, "org-1", srv.ID, "alice", UpdateRequest{Name: &name, AuthType: &bearer})
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, "org-1", srv.ID, "bob"))

	require.NoError(t, r.Restore(ctx, prev))
	got, err := r.Get(ctx, "org-1", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, "search", got.Name)
	assert.Equal(t, store.AuthNone, got.AuthType)
	assert.Equal(t, store.StatusDeactivated, got.Status)
}
