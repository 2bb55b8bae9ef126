package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/testutil"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", WithClientLogger(testutil.Logger()))
}

func writeError(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	var eb ErrorBody
	eb.Error.Code = code
	eb.Error.Message = msg
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(eb)
}

func TestClient_SendsBearerAndPaths(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.EscapedPath()
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"id":"a b"}`))
	})

	got, err := c.Put(context.Background(), "attendance_record", "a b", json.RawMessage(`{"id":"a b"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a b"}`, string(got))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/entities/attendance_record/a%20b", gotPath)
}

func TestClient_GetNotFoundIsAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, apperr.CodeNotFound, "nope")
	})
	got, err := c.Get(context.Background(), "attendance_record", "x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     apperr.Code
		wantCode apperr.Code
	}{
		{"server error retries", http.StatusServiceUnavailable, "", apperr.CodeSyncTransient},
		{"rate limit retries", http.StatusTooManyRequests, "", apperr.CodeSyncTransient},
		{"auth failure retries", http.StatusUnauthorized, "", apperr.CodeSyncTransient},
		{"domain code passes through", http.StatusConflict, apperr.CodeAlreadyClockedIn, apperr.CodeAlreadyClockedIn},
		{"validation passes through", http.StatusBadRequest, apperr.CodeValidation, apperr.CodeValidation},
		{"uncoded 4xx is permanent", http.StatusUnprocessableEntity, "", apperr.CodeSyncPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.code == "" {
					w.WriteHeader(tt.status)
					return
				}
				writeError(w, tt.status, tt.code, "rejected")
			})
			_, err := c.Put(context.Background(), "attendance_record", "x", json.RawMessage(`{}`))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperr.CodeOf(err))
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "")
	_, err := c.Get(context.Background(), "attendance_record", "x")
	assert.Equal(t, apperr.CodeSyncTransient, apperr.CodeOf(err))
	assert.False(t, c.IsConnected())
}

func TestClient_IsConnected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.True(t, c.IsConnected())
}

func TestClient_ListCategories(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"std","name":"Standard","minHours":0,"payMultiplier":1,"isActive":true}]`))
	})
	cats, err := c.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Standard", cats[0].Name)
}
