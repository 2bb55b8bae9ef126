package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/ids"
	"github.com/roach88/shiftsync/internal/queue"
	"github.com/roach88/shiftsync/internal/remote"
	"github.com/roach88/shiftsync/internal/store"
	"github.com/roach88/shiftsync/internal/syncer"
	"github.com/roach88/shiftsync/internal/testutil"
)

var secret = []byte("test-secret")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	clock  *clock.Manual
	server *store.Store
	tokens *auth.Tokens
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(testutil.T0)
	st := testutil.NewStore(t)
	tokens := auth.NewTokens(secret, clk, time.Hour)
	srv := New(remote.NewBackend(st, clk, testutil.Logger()), tokens, WithLogger(testutil.Logger()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{clock: clk, server: st, tokens: tokens, url: ts.URL}
}

func (f *fixture) client(t *testing.T, actor auth.Actor) *remote.Client {
	t.Helper()
	tok, err := f.tokens.Issue(actor)
	require.NoError(t, err)
	return remote.NewClient(f.url, tok, remote.WithClientLogger(testutil.Logger()))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.url + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, remote.NewClient(f.url, "").IsConnected())
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	for _, header := range []string{"", "Basic abc", "Bearer not-a-jwt"} {
		req, err := http.NewRequest(http.MethodGet, f.url+"/api/v1/categories", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "header %q", header)
	}
}

func TestEntityRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, auth.System)
	ctx := context.Background()

	got, err := c.Get(ctx, attendance.EntityType, "rec-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec, err := attendance.ClockIn("rec-1", "emp-1", nil, testutil.T0, testutil.T0, nil)
	require.NoError(t, err)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	stored, err := c.Put(ctx, attendance.EntityType, "rec-1", raw)
	require.NoError(t, err)
	assert.Contains(t, string(stored), `"lastSyncAt"`)

	got, err = c.Get(ctx, attendance.EntityType, "rec-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(stored), string(got))

	second, err := attendance.ClockIn("rec-2", "emp-1", nil, testutil.T0, testutil.T0, nil)
	require.NoError(t, err)
	raw, err = json.Marshal(second)
	require.NoError(t, err)
	_, err = c.Put(ctx, attendance.EntityType, "rec-2", raw)
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyClockedIn), "got %v", err)

	err = c.Delete(ctx, attendance.EntityType, "rec-1")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.Issue(auth.System)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, f.url+"/api/v1/entities/attendance_record/x", strings.NewReader("{nope"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body remote.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, apperr.CodeValidation, body.Error.Code)
}

func TestCategoryWritesNeedAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cat := category.TimeCategory{ID: "std", Name: "Standard", MaxHours: testutil.Ptr(8.0), PayMultiplier: 1, IsActive: true}
	raw, err := json.Marshal(cat)
	require.NoError(t, err)

	_, err = f.client(t, auth.Actor{EmployeeID: "mgr-1", Role: auth.RoleManager}).Put(ctx, category.EntityType, "std", raw)
	assert.Equal(t, apperr.CodeSyncTransient, apperr.CodeOf(err), "403 is retried by the client")

	admin := f.client(t, auth.System)
	_, err = admin.Put(ctx, category.EntityType, "std", raw)
	require.NoError(t, err)

	overlap := category.TimeCategory{ID: "ot", Name: "Overtime", MinHours: 6, PayMultiplier: 1.5, IsActive: true}
	raw, err = json.Marshal(overlap)
	require.NoError(t, err)
	_, err = admin.Put(ctx, category.EntityType, "ot", raw)
	assert.True(t, apperr.Is(err, apperr.CodeCategoryConflict))

	cats, err := admin.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Standard", cats[0].Name)

	require.NoError(t, admin.Delete(ctx, category.EntityType, "std"))
	got, err := admin.Get(ctx, category.EntityType, "std")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeviceDrainsOverHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.client(t, auth.System)
	local := testutil.NewStore(t)
	coord := syncer.New(local, client, client,
		syncer.WithClock(f.clock),
		syncer.WithIDs(ids.NewFixed("q")),
		syncer.WithLogger(testutil.Logger()),
	)

	open, err := attendance.ClockIn("rec-1", "emp-1", nil, testutil.T0, testutil.T0, nil)
	require.NoError(t, err)
	require.NoError(t, local.InsertRecord(ctx, open))
	data, err := json.Marshal(open)
	require.NoError(t, err)

	res, err := coord.Submit(ctx, syncer.Change{
		Operation:  queue.OpCreate,
		EntityType: attendance.EntityType,
		EntityID:   open.ID,
		Data:       data,
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.SyncSynced, res.SyncStatus)

	server, err := f.server.GetRecord(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.SyncSynced, server.SyncStatus)

	local2, err := local.GetRecord(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.SyncSynced, local2.SyncStatus)
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("x", "bad"), http.StatusBadRequest},
		{apperr.NotFound("record", "x"), http.StatusNotFound},
		{apperr.AlreadyClockedIn("e", "r"), http.StatusConflict},
		{apperr.Forbidden("no"), http.StatusForbidden},
		{apperr.Permanent("op", assert.AnError), http.StatusUnprocessableEntity},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toHTTPStatus(tt.err), "%v", tt.err)
	}

	body := apiErrFrom(assert.AnError)
	assert.Equal(t, apperr.CodeInternal, body.Error.Code)
	assert.NotContains(t, body.Error.Message, assert.AnError.Error())
}
