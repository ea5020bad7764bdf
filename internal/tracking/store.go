// Package tracking implements the best-effort Redis mirror of per-order
// sequence numbers and scheduling timestamps.
//
// The store is purely diagnostic: it is written through on enqueue and
// transfer, read by cancel-by-order-id and status operations, and never
// consulted for transfer eligibility. Every entry carries a TTL. A circuit
// breaker wraps all Redis calls so a dead store fails fast; callers on the
// transfer path log and ignore the resulting errors.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"shovel/internal/types"
)

// Key layout, kept compatible with the historical deployment so existing
// tracking data stays readable:
//
//	order:source:<orderID> -> hash {order_id, sequence, scheduled_for, updated_at}
//	order:dest:<orderID>   -> hash {order_id, sequence, scheduled_for, updated_at}
const (
	keyPrefixSource = "order:source:"
	keyPrefixDest   = "order:dest:"
	keyPatternAll   = "order:*"
)

const (
	fieldOrderID      = "order_id"
	fieldSequence     = "sequence"
	fieldScheduledFor = "scheduled_for"
	fieldUpdatedAt    = "updated_at"
)

// kv is the minimal Redis surface the store uses. It exists so tests can
// fake the store without a live Redis.
type kv interface {
	HSet(ctx context.Context, key string, fields map[string]any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// redisKV adapts a go-redis client to the kv interface.
type redisKV struct {
	rdb redis.UniversalClient
}

func (r redisKV) HSet(ctx context.Context, key string, fields map[string]any) error {
	return r.rdb.HSet(ctx, key, fields).Err()
}

func (r redisKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

func (r redisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

func (r redisKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.rdb.Keys(ctx, pattern).Result()
}

func (r redisKV) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.rdb.Del(ctx, keys...).Result()
}

// Store is the tracking store adapter.
type Store struct {
	kv      kv
	breaker *gobreaker.CircuitBreaker[any]
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a Store backed by the given Redis client. Entries expire
// after ttl.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Store {
	return newStore(redisKV{rdb: rdb}, ttl, logger)
}

// newStore is the kv-injectable constructor used by tests.
func newStore(store kv, ttl time.Duration, logger *slog.Logger) *Store {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "tracking-redis",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("tracking store breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &Store{kv: store, breaker: cb, ttl: ttl, logger: logger}
}

// execute runs op through the circuit breaker and normalizes failures into
// the tracking_store_unavailable error code.
func (s *Store) execute(op func() (any, error)) (any, error) {
	res, err := s.breaker.Execute(op)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.NewAppError(types.ErrCodeTrackingUnavailable, "tracking store circuit open", err)
	}
	return nil, types.NewAppError(types.ErrCodeTrackingUnavailable, "tracking store operation failed", err)
}

// Record writes or overwrites the entry for its order and location,
// refreshing the TTL.
func (s *Store) Record(ctx context.Context, e types.TrackingEntry) error {
	key := entryKey(e.Location, e.OrderID)
	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.execute(func() (any, error) {
		fields := map[string]any{
			fieldOrderID:      e.OrderID,
			fieldSequence:     strconv.FormatInt(e.SequenceNumber, 10),
			fieldScheduledFor: e.ScheduledFor.UTC().Format(time.RFC3339Nano),
			fieldUpdatedAt:    updatedAt.Format(time.RFC3339Nano),
		}
		if err := s.kv.HSet(ctx, key, fields); err != nil {
			return nil, err
		}
		return nil, s.kv.Expire(ctx, key, s.ttl)
	})
	return err
}

// Lookup returns the source and destination entries for an order. A nil
// entry means the order is not tracked at that location; this is not an
// error.
func (s *Store) Lookup(ctx context.Context, orderID string) (source, dest *types.TrackingEntry, err error) {
	res, err := s.execute(func() (any, error) {
		src, err := s.readEntry(ctx, types.LocationSource, orderID)
		if err != nil {
			return nil, err
		}
		dst, err := s.readEntry(ctx, types.LocationDestination, orderID)
		if err != nil {
			return nil, err
		}
		return [2]*types.TrackingEntry{src, dst}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	pair := res.([2]*types.TrackingEntry)
	return pair[0], pair[1], nil
}

// Delete removes the entry for an order at one location. Deleting an absent
// entry is a no-op.
func (s *Store) Delete(ctx context.Context, orderID string, loc types.QueueLocation) error {
	_, err := s.execute(func() (any, error) {
		_, err := s.kv.Del(ctx, entryKey(loc, orderID))
		return nil, err
	})
	return err
}

// Entries lists every tracked entry for one queue location.
func (s *Store) Entries(ctx context.Context, loc types.QueueLocation) ([]types.TrackingEntry, error) {
	res, err := s.execute(func() (any, error) {
		keys, err := s.kv.Keys(ctx, keyPrefix(loc)+"*")
		if err != nil {
			return nil, err
		}
		entries := make([]types.TrackingEntry, 0, len(keys))
		for _, key := range keys {
			e, err := s.readEntry(ctx, loc, strings.TrimPrefix(key, keyPrefix(loc)))
			if err != nil {
				return nil, err
			}
			if e != nil {
				entries = append(entries, *e)
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]types.TrackingEntry), nil
}

// Stats counts tracked orders per location.
func (s *Store) Stats(ctx context.Context) (types.TrackingStats, error) {
	res, err := s.execute(func() (any, error) {
		src, err := s.kv.Keys(ctx, keyPrefixSource+"*")
		if err != nil {
			return nil, err
		}
		dst, err := s.kv.Keys(ctx, keyPrefixDest+"*")
		if err != nil {
			return nil, err
		}
		return types.TrackingStats{SourceTracked: len(src), DestTracked: len(dst)}, nil
	})
	if err != nil {
		return types.TrackingStats{}, err
	}
	return res.(types.TrackingStats), nil
}

// PurgeAll deletes every tracking key and returns how many were removed.
// Purging an empty store returns zero, not an error.
func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.execute(func() (any, error) {
		keys, err := s.kv.Keys(ctx, keyPatternAll)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return int64(0), nil
		}
		return s.kv.Del(ctx, keys...)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// readEntry loads and parses one hash; returns nil when the key is absent.
func (s *Store) readEntry(ctx context.Context, loc types.QueueLocation, orderID string) (*types.TrackingEntry, error) {
	fields, err := s.kv.HGetAll(ctx, entryKey(loc, orderID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	e := &types.TrackingEntry{
		OrderID:  fields[fieldOrderID],
		Location: loc,
	}
	if e.OrderID == "" {
		e.OrderID = orderID
	}
	if v := fields[fieldSequence]; v != "" {
		if seq, err := strconv.ParseInt(v, 10, 64); err == nil {
			e.SequenceNumber = seq
		}
	}
	if v := fields[fieldScheduledFor]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.ScheduledFor = t
		}
	}
	if v := fields[fieldUpdatedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

func keyPrefix(loc types.QueueLocation) string {
	if loc == types.LocationDestination {
		return keyPrefixDest
	}
	return keyPrefixSource
}

func entryKey(loc types.QueueLocation, orderID string) string {
	return keyPrefix(loc) + orderID
}
