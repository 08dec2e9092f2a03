package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"econbot/internal/calendar"
	"econbot/pkg/logx"

	"github.com/redis/go-redis/v9"
)

const (
	redisEventPrefix = "econbot:event:"
	redisTimeIndex   = "econbot:events:by_time"
)

// redisStore keeps each event as a JSON string and indexes keys in a sorted
// set scored by unix seconds.
type redisStore struct {
	rdb *redis.Client
	log logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("store.dsn is required for redis driver")
	}
	var opts *redis.Options
	if strings.Contains(dsn, "://") {
		o, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("redis dsn: %w", err)
		}
		opts = o
	} else {
		opts = &redis.Options{Addr: dsn}
	}
	return newRedisStore(ctx, redis.NewClient(opts), log)
}

func newRedisStore(ctx context.Context, rdb *redis.Client, log logx.Logger) (*redisStore, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb, log: log}, nil
}

func (s *redisStore) Get(ctx context.Context, key calendar.Key) (calendar.Event, bool, error) {
	k := calendar.NewKey(key.Name, key.At).String()
	raw, err := s.rdb.Get(ctx, redisEventPrefix+k).Bytes()
	if errors.Is(err, redis.Nil) {
		return calendar.Event{}, false, nil
	}
	if err != nil {
		return calendar.Event{}, false, err
	}
	var ev calendar.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return calendar.Event{}, false, fmt.Errorf("decode %s: %w", k, err)
	}
	return ev, true, nil
}

func (s *redisStore) Put(ctx context.Context, ev calendar.Event) error {
	k := ev.Key()
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisEventPrefix+k.String(), raw, 0)
		p.ZAdd(ctx, redisTimeIndex, redis.Z{Score: float64(k.At.Unix()), Member: k.String()})
		return nil
	})
	return err
}

func (s *redisStore) keysBetween(ctx context.Context, lo, hi string) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, redisTimeIndex, &redis.ZRangeBy{Min: lo, Max: hi}).Result()
}

func (s *redisStore) Range(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	keys, err := s.keysBetween(ctx, strconv.FormatInt(from.Unix(), 10), "("+strconv.FormatInt(to.Unix(), 10))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisEventPrefix + k
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]calendar.Event, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// index entry without a value; tolerated until the next prune
			continue
		}
		var ev calendar.Event
		if err := json.Unmarshal([]byte(str), &ev); err != nil {
			s.log.Warn("redis event decode failed", logx.String("key", keys[i]), logx.Err(err))
			continue
		}
		out = append(out, ev)
	}
	calendar.Sort(out)
	return out, nil
}

func (s *redisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	keys, err := s.keysBetween(ctx, "-inf", "("+strconv.FormatInt(before.Unix(), 10))
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	full := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		full[i] = redisEventPrefix + k
		members[i] = k
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, full...)
		p.ZRem(ctx, redisTimeIndex, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *redisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *redisStore) Close() error { return s.rdb.Close() }
