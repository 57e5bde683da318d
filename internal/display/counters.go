package display

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	redislib "github.com/redis/go-redis/v9"
)

const (
	countersKey         = "display:counters"
	maxCounterTxRetries = 10
)

var ErrCounterConflict = errors.New("display counters changed concurrently")

type MemoryCounterStore struct {
	mu       sync.Mutex
	counters Counters
}

func NewMemoryCounterStore(initial Counters) *MemoryCounterStore {
	return &MemoryCounterStore{counters: initial}
}

func (s *MemoryCounterStore) Get(context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters, nil
}

func (s *MemoryCounterStore) Update(_ context.Context, fn func(Counters) Counters) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = fn(s.counters)
	return s.counters, nil
}

// RedisCounterStore keeps the counters in one hash and updates them with an
// optimistic WATCH/MULTI transaction.
type RedisCounterStore struct {
	client *redislib.Client
	key    string
}

func NewRedisCounterStore(client *redislib.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client, key: countersKey}
}

func (s *RedisCounterStore) Get(ctx context.Context) (Counters, error) {
	if s.client == nil {
		return Counters{}, fmt.Errorf("redis client is nil")
	}
	data, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Counters{}, err
	}
	return decodeCounters(data), nil
}

func (s *RedisCounterStore) Update(ctx context.Context, fn func(Counters) Counters) (Counters, error) {
	if s.client == nil {
		return Counters{}, fmt.Errorf("redis client is nil")
	}

	var result Counters
	txf := func(tx *redislib.Tx) error {
		data, err := tx.HGetAll(ctx, s.key).Result()
		if err != nil {
			return err
		}

		next := fn(decodeCounters(data))
		_, err = tx.TxPipelined(ctx, func(pipe redislib.Pipeliner) error {
			pipe.HSet(ctx, s.key, encodeCounters(next))
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for attempt := 0; attempt < maxCounterTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redislib.TxFailedErr) {
			continue
		}
		return Counters{}, err
	}

	return Counters{}, ErrCounterConflict
}

func decodeCounters(data map[string]string) Counters {
	field := func(name string) int {
		v, err := strconv.Atoi(data[name])
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	return Counters{
		Advertising: field("advertising"),
		Title:       field("title"),
		Tweet:       field("tweet"),
	}
}

func encodeCounters(c Counters) map[string]interface{} {
	return map[string]interface{}{
		"advertising": strconv.Itoa(c.Advertising),
		"title":       strconv.Itoa(c.Title),
		"tweet":       strconv.Itoa(c.Tweet),
	}
}
