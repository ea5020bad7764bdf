package tracking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shovel/internal/types"
)

var storeClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeKV is an in-memory kv used to exercise the store without Redis.
type fakeKV struct {
	data  map[string]map[string]string
	ttls  map[string]time.Duration
	calls int
	err   error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		data: map[string]map[string]string{},
		ttls: map[string]time.Duration{},
	}
}

func (f *fakeKV) HSet(ctx context.Context, key string, fields map[string]any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	h := map[string]string{}
	for k, v := range fields {
		h[k] = v.(string)
	}
	f.data[key] = h
	return nil
}

func (f *fakeKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return n, nil
}

func newTestStore(t *testing.T) (*Store, *fakeKV) {
	t.Helper()
	kv := newFakeKV()
	return newStore(kv, 168*time.Hour, slog.Default()), kv
}

func entryFixture(orderID string, loc types.QueueLocation) types.TrackingEntry {
	return types.TrackingEntry{
		OrderID:        orderID,
		Location:       loc,
		SequenceNumber: 42,
		ScheduledFor:   storeClock.Add(time.Hour),
		UpdatedAt:      storeClock,
	}
}

func TestStore_RecordAndLookup(t *testing.T) {
	store, kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, entryFixture("ORD-1", types.LocationSource)))

	src, dst, err := store.Lookup(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Nil(t, dst)

	assert.Equal(t, "ORD-1", src.OrderID)
	assert.Equal(t, types.LocationSource, src.Location)
	assert.Equal(t, int64(42), src.SequenceNumber)
	assert.True(t, src.ScheduledFor.Equal(storeClock.Add(time.Hour)))
	assert.True(t, src.UpdatedAt.Equal(storeClock))

	assert.Equal(t, 168*time.Hour, kv.ttls["order:source:ORD-1"], "entry carries the configured TTL")
}

func TestStore_RecordOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	e := entryFixture("ORD-1", types.LocationDestination)
	require.NoError(t, store.Record(ctx, e))
	e.SequenceNumber = 77
	require.NoError(t, store.Record(ctx, e))

	_, dst, err := store.Lookup(ctx, "ORD-1")
	require.NoError(t, err)
	require.NotNil(t, dst)
	assert.Equal(t, int64(77), dst.SequenceNumber)
}

func TestStore_LookupUnknownOrder(t *testing.T) {
	store, _ := newTestStore(t)

	src, dst, err := store.Lookup(context.Background(), "ORD-unknown")
	require.NoError(t, err, "an absent entry is not an error")
	assert.Nil(t, src)
	assert.Nil(t, dst)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, entryFixture("ORD-1", types.LocationSource)))

	require.NoError(t, store.Delete(ctx, "ORD-1", types.LocationSource))
	src, _, err := store.Lookup(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Nil(t, src)

	assert.NoError(t, store.Delete(ctx, "ORD-1", types.LocationSource), "deleting an absent entry is a no-op")
}

func TestStore_EntriesPerLocation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, entryFixture("ORD-1", types.LocationSource)))
	require.NoError(t, store.Record(ctx, entryFixture("ORD-2", types.LocationSource)))
	require.NoError(t, store.Record(ctx, entryFixture("ORD-3", types.LocationDestination)))

	srcEntries, err := store.Entries(ctx, types.LocationSource)
	require.NoError(t, err)
	assert.Len(t, srcEntries, 2)

	dstEntries, err := store.Entries(ctx, types.LocationDestination)
	require.NoError(t, err)
	require.Len(t, dstEntries, 1)
	assert.Equal(t, "ORD-3", dstEntries[0].OrderID)
}

func TestStore_Stats(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, entryFixture("ORD-1", types.LocationSource)))
	require.NoError(t, store.Record(ctx, entryFixture("ORD-2", types.LocationDestination)))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SourceTracked)
	assert.Equal(t, 1, stats.DestTracked)
}

func TestStore_PurgeAll(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, entryFixture("ORD-1", types.LocationSource)))
	require.NoError(t, store.Record(ctx, entryFixture("ORD-2", types.LocationDestination)))

	deleted, err := store.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = store.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "purging an empty store is not an error")
}

func TestStore_FailuresMapToTrackingUnavailable(t *testing.T) {
	store, kv := newTestStore(t)
	kv.err = errors.New("connection refused")

	err := store.Record(context.Background(), entryFixture("ORD-1", types.LocationSource))
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeTrackingUnavailable, appErr.Code)
}

func TestStore_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	store, kv := newTestStore(t)
	kv.err = errors.New("connection refused")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, store.Delete(ctx, "ORD-1", types.LocationSource))
	}
	callsAfterTrip := kv.calls

	// The breaker is open: further calls fail fast without touching Redis.
	err := store.Delete(ctx, "ORD-1", types.LocationSource)
	require.Error(t, err)
	assert.Equal(t, callsAfterTrip, kv.calls)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeTrackingUnavailable, appErr.Code)
}
