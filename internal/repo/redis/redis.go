// Package redis stores alert state in Redis hashes so that several API
// replicas share one cooldown.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hamed0406/heartbeat/internal/repo"
)

const defaultPrefix = "heartbeat:alert:"

type AlertStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ repo.AlertStore = (*AlertStore)(nil)

// New parses a redis:// URL and checks the connection.
func New(ctx context.Context, url string) (*AlertStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb), nil
}

func NewWithClient(rdb goredis.UniversalClient) *AlertStore {
	return &AlertStore{rdb: rdb, prefix: defaultPrefix}
}

func (s *AlertStore) Close() error { return s.rdb.Close() }

func (s *AlertStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *AlertStore) key(target string) string { return s.prefix + target }

func (s *AlertStore) Get(ctx context.Context, target string) (*repo.AlertRecord, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(target)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", target, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	r := &repo.AlertRecord{Target: target, LastState: vals["last_state"] == "1"}
	if raw := vals["last_sent_at"]; raw != "" {
		ns, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad last_sent_at for %s: %w", target, err)
		}
		ts := time.Unix(0, ns).UTC()
		r.LastSentAt = &ts
	}
	return r, nil
}

func (s *AlertStore) Set(ctx context.Context, target string, lastState bool, sentAt time.Time) error {
	state := "0"
	if lastState {
		state = "1"
	}
	sent := ""
	if !sentAt.IsZero() {
		sent = strconv.FormatInt(sentAt.UnixNano(), 10)
	}
	if err := s.rdb.HSet(ctx, s.key(target), "last_state", state, "last_sent_at", sent).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", target, err)
	}
	return nil
}
