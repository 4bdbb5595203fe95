package taskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCreateGetUpdate(t *testing.T) {
	store := newTestStore(t)

	id := uuid.NewString()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(Record{
		TaskID:      id,
		NodeName:    "ingest-readings",
		NodeType:    "ingest",
		Status:      StatusRunning,
		ClusterName: "local",
		TableName:   "doc.readings",
		StartedAt:   started,
		TaskContext: map[string]any{"topic": "sensors"},
	}))

	rec, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, rec.Status)
	require.Equal(t, "doc.readings", rec.TableName)
	require.True(t, rec.StartedAt.Equal(started))
	require.True(t, rec.FinishedAt.IsZero())
	require.Equal(t, "sensors", rec.TaskContext["topic"])

	finished := started.Add(2 * time.Second)
	require.NoError(t, store.Update(Record{
		TaskID:      id,
		Status:      StatusCompleted,
		Total:       10,
		Errors:      2,
		FinishedAt:  finished,
		TimeTaken:   2,
		TaskContext: map[string]any{"topic": "sensors", "failed": 2},
	}))

	rec, err = store.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, 10, rec.Total)
	require.Equal(t, 2, rec.Errors)
	require.True(t, rec.FinishedAt.Equal(finished))
	require.Equal(t, 2.0, rec.TimeTaken)
	require.Equal(t, float64(2), rec.TaskContext["failed"])
}

func TestStoreNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound)

	err = store.Update(Record{TaskID: uuid.NewString(), Status: StatusFailed})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(" ")
	require.Error(t, err)
}

func TestStoreCreateValidation(t *testing.T) {
	store := newTestStore(t)

	base := Record{TaskID: "t", NodeName: "n", NodeType: "query", Status: StatusPending, ClusterName: "c"}
	require.NoError(t, base.validateForCreate())

	for _, mutate := range []func(*Record){
		func(r *Record) { r.TaskID = "" },
		func(r *Record) { r.NodeName = "" },
		func(r *Record) { r.NodeType = "" },
		func(r *Record) { r.Status = "" },
		func(r *Record) { r.ClusterName = "" },
	} {
		rec := base
		mutate(&rec)
		require.Error(t, store.Create(rec))
	}
}

func TestRecorderWithoutStoreIsNoop(t *testing.T) {
	var r *Recorder
	require.False(t, r.HasStore())
	require.NoError(t, r.Create(Record{}))
	require.NoError(t, r.Update(Record{}))
	require.NoError(t, r.Close())
}

func TestRecorderOwnsStore(t *testing.T) {
	r, err := NewRecorder(nil, filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	require.True(t, r.OwnsStore())

	// Update before Create is skipped.
	require.NoError(t, r.Update(Record{TaskID: "x", Status: StatusFailed}))

	require.NoError(t, r.Create(Record{TaskID: "x", NodeName: "n", NodeType: "query", Status: StatusRunning, ClusterName: "c"}))
	require.True(t, r.Created())
	require.NoError(t, r.Update(Record{TaskID: "x", Status: StatusCompleted}))

	rec, err := r.Store().Get("x")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	require.NoError(t, r.Close())
	require.Nil(t, r.Store())
}
