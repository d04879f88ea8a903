package historystore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-lab-api/internal/models"
	"github.com/noah-isme/gema-lab-api/internal/reconcile"
)

func seededEngine(t *testing.T) *reconcile.Engine {
	t.Helper()
	engine := reconcile.NewEngine()
	_, err := engine.RecordLocalSubmission(3, models.Submission{ID: 11, QuestionID: 3, Type: models.TypeSubmission, Language: "python", Code: "print(2)", CreatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	metadata := `[{"status":"PASSED"}]`
	_, err = engine.ApplyUpdate(reconcile.Update{ID: 11, QuestionID: 3, Status: models.StatusAccepted, ResultMetadata: &metadata})
	require.NoError(t, err)
	return engine
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "", time.Hour), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "user-1")
	require.ErrorIs(t, err, ErrNotFound)

	engine := seededEngine(t)
	require.NoError(t, SaveFrom(ctx, store, "user-1", engine))
	require.True(t, mr.Exists("lab_submission_history_v1:user-1"))
	require.Greater(t, mr.TTL("lab_submission_history_v1:user-1"), time.Duration(0))

	restored := reconcile.NewEngine()
	loaded, err := LoadInto(ctx, store, "user-1", restored)
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, engine.History(3), restored.History(3))
	require.Equal(t, 100, restored.Score(3))

	require.NoError(t, store.Clear(ctx, "user-1"))
	loaded, err = LoadInto(ctx, store, "user-1", reconcile.NewEngine())
	require.NoError(t, err)
	require.False(t, loaded)
}

func TestRedisStoreIgnoresForeignSchema(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("lab_submission_history_v1:user-2", `{"schema":"lab_submission_history_v0","snapshot":{"version":1}}`))

	_, err := store.Load(context.Background(), "user-2")
	require.ErrorIs(t, err, ErrSchemaMismatch)

	engine := seededEngine(t)
	loaded, err := LoadInto(context.Background(), store, "user-2", engine)
	require.NoError(t, err)
	require.False(t, loaded)
	require.Len(t, engine.History(3), 1)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	engine := seededEngine(t)
	require.NoError(t, SaveFrom(ctx, store, "alice@example.com", engine))

	snapshot, err := store.Load(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, reconcile.SnapshotVersion, snapshot.Version)
	require.Len(t, snapshot.Questions, 1)

	require.NoError(t, store.Clear(ctx, "alice@example.com"))
	require.NoError(t, store.Clear(ctx, "alice@example.com"))
	_, err = store.Load(ctx, "alice@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRequiresOwner(t *testing.T) {
	store, _ := newRedisStore(t)
	require.Error(t, store.Save(context.Background(), "", reconcile.Snapshot{}))
}
