package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shiftsync/internal/category"
)

type memRemote struct{ data map[string]json.RawMessage }

func (m *memRemote) Get(_ context.Context, _, id string) (json.RawMessage, error) {
	return m.data[id], nil
}

func (m *memRemote) Put(_ context.Context, _, id string, data json.RawMessage) (json.RawMessage, error) {
	m.data[id] = data
	return data, nil
}

func (m *memRemote) Delete(_ context.Context, _, id string) error {
	delete(m.data, id)
	return nil
}

func (m *memRemote) ListCategories(context.Context) ([]category.TimeCategory, error) {
	return nil, nil
}

func TestFlakyRemote_FailsThenRecovers(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	f := NewFlakyRemote(&memRemote{data: map[string]json.RawMessage{}})
	f.FailNext(2, boom)

	_, err := f.Put(ctx, "t", "a", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, boom)
	_, err = f.Get(ctx, "t", "a")
	assert.ErrorIs(t, err, boom)

	_, err = f.Put(ctx, "t", "a", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	got, err := f.Get(ctx, "t", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(got))

	assert.Equal(t, 2, f.Calls("put"))
	assert.Equal(t, 2, f.Calls("get"))
}

func TestFlakyRemote_FailForever(t *testing.T) {
	f := NewFlakyRemote(&memRemote{data: map[string]json.RawMessage{}})
	f.FailNext(-1, errors.New("down"))
	for i := 0; i < 3; i++ {
		assert.Error(t, f.Delete(context.Background(), "t", "a"))
	}
	f.FailNext(0, nil)
	assert.NoError(t, f.Delete(context.Background(), "t", "a"))
}

func TestFlakyRemote_Hook(t *testing.T) {
	f := NewFlakyRemote(&memRemote{data: map[string]json.RawMessage{}})
	var seen []string
	f.OnCall(func(op, _, id string) { seen = append(seen, op+":"+id) })

	_, _ = f.Put(context.Background(), "t", "a", json.RawMessage(`{}`))
	_ = f.Delete(context.Background(), "t", "a")
	assert.Equal(t, []string{"put:a", "delete:a"}, seen)
}
