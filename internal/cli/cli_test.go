package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/attendance"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
	"github.com/roach88/shiftsync/internal/policy"
	"github.com/roach88/shiftsync/internal/remote"
	"github.com/roach88/shiftsync/internal/server"
	"github.com/roach88/shiftsync/internal/syncer"
	"github.com/roach88/shiftsync/internal/testutil"
	"github.com/roach88/shiftsync/internal/tracker"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const testSecret = "cli-test-secret"

// response is a decoded JSON envelope.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// testDevice runs CLI invocations against one database and, once
// connected, one config.
type testDevice struct {
	t      *testing.T
	db     string
	config string
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	return &testDevice{t: t, db: filepath.Join(t.TempDir(), "device.db")}
}

// connect points the device at a server.
func (d *testDevice) connect(url, token string) {
	d.t.Helper()
	d.config = filepath.Join(d.t.TempDir(), "shiftsync.yaml")
	yaml := fmt.Sprintf("remote:\n  url: %s\n  token: %s\n  timeout: 5s\n", url, token)
	require.NoError(d.t, os.WriteFile(d.config, []byte(yaml), 0o600))
}

// exec runs the CLI and returns stdout.
func (d *testDevice) exec(args ...string) (string, error) {
	d.t.Helper()
	full := []string{"--db", d.db}
	if d.config != "" {
		full = append(full, "--config", d.config)
	}
	full = append(full, args...)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(full)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

// call runs the CLI with --format json and decodes the envelope.
func (d *testDevice) call(args ...string) (response, error) {
	d.t.Helper()
	out, err := d.exec(append([]string{"--format", "json"}, args...)...)
	var resp response
	require.NoError(d.t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp, err
}

func (d *testDevice) ok(v any, args ...string) {
	d.t.Helper()
	resp, err := d.call(args...)
	require.NoError(d.t, err, "%v: %+v", args, resp.Error)
	require.Equal(d.t, "ok", resp.Status)
	if v != nil {
		require.NoError(d.t, json.Unmarshal(resp.Data, v))
	}
}

func (d *testDevice) fails(code string, args ...string) *CLIError {
	d.t.Helper()
	resp, err := d.call(args...)
	require.Error(d.t, err)
	assert.Equal(d.t, ExitFailure, GetExitCode(err))
	require.Equal(d.t, "error", resp.Status)
	require.NotNil(d.t, resp.Error)
	assert.Equal(d.t, code, resp.Error.Code, resp.Error.Message)
	return resp.Error
}

// startServer runs an authoritative server over a fresh store.
func startServer(t *testing.T) (*httptest.Server, *remote.Backend) {
	t.Helper()
	backend := remote.NewBackend(testutil.NewStore(t), nil, testutil.Logger())
	tokens := auth.NewTokens([]byte(testSecret), nil, time.Hour)
	srv := httptest.NewServer(server.New(backend, tokens, server.WithLogger(testutil.Logger())).Handler())
	t.Cleanup(srv.Close)
	return srv, backend
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func TestOfflineShiftLifecycle(t *testing.T) {
	d := newTestDevice(t)

	var emp attendance.Employee
	d.ok(&emp, "employees", "add", "1042", "Ada Lovelace")
	assert.Equal(t, "employee", emp.Role)
	d.fails("DUPLICATE", "employees", "add", "1042", "Someone Else")

	var in tracker.Outcome
	d.ok(&in, "clock-in", "1042", "--at", rfc3339(time.Now().Add(-9*time.Hour)), "--notes", "front desk")
	assert.True(t, in.Sync.Offline)
	assert.Equal(t, attendance.SyncPending, in.Record.SyncStatus)
	require.NotNil(t, in.Record.Notes)
	assert.Equal(t, "front desk", *in.Record.Notes)

	d.fails("ALREADY_CLOCKED_IN", "clock-in", "1042")

	var shift attendance.Shift
	d.ok(&shift, "shift", emp.ID)
	assert.True(t, shift.IsActive)
	require.NotNil(t, shift.ElapsedHours)
	assert.InDelta(t, 9.0, *shift.ElapsedHours, 0.05)

	var out tracker.Outcome
	d.ok(&out, "clock-out", "1042")
	require.NotNil(t, out.Record.TotalHours)
	assert.InDelta(t, 9.0, *out.Record.TotalHours, 0.05)
	assert.Nil(t, out.Record.TimeCategoryID, "no categories configured")

	d.fails("NOT_CLOCKED_IN", "clock-out", "1042")

	var recs []attendance.Record
	d.ok(&recs, "records", "1042")
	require.Len(t, recs, 1)
	assert.Equal(t, in.Record.ID, recs[0].ID)

	var st syncer.Status
	d.ok(&st, "sync", "status")
	assert.False(t, st.Online)
	assert.Equal(t, 2, st.PendingItems)
	assert.Nil(t, st.LastSyncAt)

	errInfo := d.fails("SYNC_TRANSIENT", "sync", "trigger")
	assert.Contains(t, errInfo.Message, "sync")
}

func TestUnknownEmployee(t *testing.T) {
	d := newTestDevice(t)
	d.fails("NOT_FOUND", "clock-in", "nobody")
}

func TestOfflineChangesDrainOnceServerConfigured(t *testing.T) {
	srv, backend := startServer(t)
	d := newTestDevice(t)

	d.ok(nil, "employees", "add", "7", "Grace Hopper", "--role", "manager")
	var in tracker.Outcome
	d.ok(&in, "clock-in", "7")
	assert.True(t, in.Sync.Offline)

	t.Setenv("SHIFTSYNC_JWT_SECRET", testSecret)
	var tok TokenResult
	d.ok(&tok, "token", "front-desk-1")
	assert.Equal(t, "admin", tok.Role)
	d.connect(srv.URL, tok.Token)

	var res syncer.Result
	d.ok(&res, "sync", "trigger")
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Succeeded)

	raw, err := backend.Get(context.Background(), attendance.EntityType, in.Record.ID)
	require.NoError(t, err)
	require.NotNil(t, raw)

	var st syncer.Status
	d.ok(&st, "sync", "status")
	assert.True(t, st.Online)
	assert.Zero(t, st.PendingItems)
	assert.NotNil(t, st.LastSyncAt)

	// Online writes go straight through.
	var out tracker.Outcome
	d.ok(&out, "clock-out", "7")
	assert.False(t, out.Sync.Queued)
	assert.Equal(t, attendance.SyncSynced, out.Record.SyncStatus)
}

func TestBadTokenKeepsChangesQueued(t *testing.T) {
	srv, _ := startServer(t)
	d := newTestDevice(t)
	d.connect(srv.URL, "not-a-token")

	d.ok(nil, "employees", "add", "1", "Alan Turing")
	var in tracker.Outcome
	d.ok(&in, "clock-in", "1")
	assert.True(t, in.Sync.Queued)

	var st syncer.Status
	d.ok(&st, "sync", "status")
	assert.Equal(t, 1, st.PendingItems+st.FailedItems)
	d.ok(nil, "sync", "failed")
}

func TestAdjust(t *testing.T) {
	d := newTestDevice(t)
	d.ok(nil, "employees", "add", "1", "Ada Lovelace")
	d.ok(nil, "employees", "add", "2", "Alan Turing")
	d.ok(nil, "employees", "add", "7", "Grace Hopper", "--role", "manager")

	start := time.Now().Add(-8 * time.Hour).Truncate(time.Second)
	d.ok(nil, "clock-in", "1", "--at", rfc3339(start))
	var out tracker.Outcome
	d.ok(&out, "clock-out", "1")
	id := out.Record.ID

	d.fails("VALIDATION", "adjust", id, "--field", "notes", "--value", "x", "--as", "1")
	d.fails("FORBIDDEN", "adjust", id, "--field", "notes", "--value", "x", "--reason", "r", "--as", "2")
	d.fails("VALIDATION", "adjust", id, "--field", "breakTime", "--value", "x", "--reason", "r", "--as", "7")

	var res AdjustResult
	d.ok(&res, "adjust", id,
		"--field", "clockInTime",
		"--value", rfc3339(start.Add(-time.Hour)),
		"--reason", "badge reader down",
		"--as", "7")
	require.NotNil(t, res.Record.TotalHours)
	assert.InDelta(t, 9.0, *res.Record.TotalHours, 0.05)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, attendance.FieldClockIn, res.Adjustments[0].Field)
	assert.Equal(t, "badge reader down", res.Adjustments[0].Reason)

	d.ok(&res, "adjust", id, "--field", "notes", "--value", "forgot lunch", "--reason", "self", "--as", "1")
	assert.Len(t, res.Adjustments, 2)
}

func TestPolicyAndCategories(t *testing.T) {
	d := newTestDevice(t)

	var sum policy.Summary
	d.ok(&sum, "policy", "apply", filepath.Join("testdata", "site.cue"))
	assert.Equal(t, []string{"standard", "overtime", "double"}, sum.Saved)
	assert.Equal(t, 1, sum.Rules)

	out, err := d.exec("categories", "list")
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "categories_list", []byte(out))

	var p category.Preview
	d.ok(&p, "categories", "preview", "10", "20")
	require.NotNil(t, p.AssignedCategory)
	assert.Equal(t, "overtime", p.AssignedCategory.ID)
	assert.InDelta(t, 300.0, p.CalculatedPay, 0.001)

	d.fails("VALIDATION", "categories", "preview", "ten", "20")

	cErr := d.fails("CATEGORY_CONFLICT", "categories", "add", "--id", "late", "--name", "Late", "--min", "6", "--max", "10", "--multiplier", "1.2")
	assert.Equal(t, "minHours", cErr.Field)

	out, err = d.exec("categories", "conflicts")
	require.NoError(t, err)
	assert.Equal(t, "no overlapping categories\n", out)

	var saved tracker.CategoryOutcome
	d.ok(&saved, "categories", "deactivate", "double")
	assert.False(t, saved.Category.IsActive)
	out, err = d.exec("categories", "deactivate", "double")
	require.NoError(t, err)
	assert.Contains(t, out, "already inactive")

	var all []category.TimeCategory
	d.ok(&all, "categories", "list", "--all")
	assert.Len(t, all, 3)

	d.ok(nil, "employees", "add", "2", "Alan Turing")
	d.fails("FORBIDDEN", "categories", "add", "--name", "Night", "--min", "20", "--as", "2")
}

func TestPolicyCheck(t *testing.T) {
	d := newTestDevice(t)

	out, err := d.exec("policy", "check", filepath.Join("testdata", "site.cue"))
	require.NoError(t, err)
	assert.Contains(t, out, "3 categor(ies), 1 rule(s)")

	resp, err := d.call("policy", "check", filepath.Join("testdata", "overlap.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "POLICY_INVALID", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "categories.long")

	_, err = d.exec("policy", "check", filepath.Join("testdata", "missing.cue"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestResolveNeedsManager(t *testing.T) {
	d := newTestDevice(t)
	d.ok(nil, "employees", "add", "1", "Ada Lovelace")
	d.ok(nil, "employees", "add", "7", "Grace Hopper", "--role", "manager")

	d.fails("FORBIDDEN", "sync", "resolve", "c-1", "use_remote", "--as", "1")
	d.fails("NOT_FOUND", "sync", "resolve", "c-1", "use_remote", "--as", "7")
	d.fails("VALIDATION", "sync", "resolve", "c-1", "flip", "--as", "7")
}

func TestRequeueRejectsLiveEntry(t *testing.T) {
	d := newTestDevice(t)
	d.ok(nil, "employees", "add", "1", "Ada Lovelace")
	var in tracker.Outcome
	d.ok(&in, "clock-in", "1")

	d.fails("VALIDATION", "sync", "requeue", in.Sync.Entry.ID)
	d.fails("NOT_FOUND", "sync", "requeue", "missing")

	var n map[string]int64
	d.ok(&n, "sync", "recover")
	assert.Zero(t, n["recovered"])
}

func TestServeNeedsSecret(t *testing.T) {
	d := newTestDevice(t)
	_, err := d.exec("serve", "--server-db", filepath.Join(t.TempDir(), "server.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestBadConfigIsCommandError(t *testing.T) {
	d := newTestDevice(t)
	d.config = filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(d.config, []byte("sync:\n  batch_size: 0\n"), 0o600))

	_, err := d.exec("sync", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "sync.batch_size")
}
