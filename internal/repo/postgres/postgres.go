package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/heartbeat/internal/domain"
	"github.com/hamed0406/heartbeat/internal/repo"
)

var (
	_ repo.TargetStore = (*Store)(nil)
	_ repo.ResultStore = (*Store)(nil)
	_ repo.AlertStore  = (*Store)(nil)
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping is used by the readiness check.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// ---- TargetStore ----

func (s *Store) Upsert(ctx context.Context, t domain.Target) error {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO targets (name, url, method, owner, category, tags)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE
		   SET url=EXCLUDED.url, method=EXCLUDED.method, owner=EXCLUDED.owner,
		       category=EXCLUDED.category, tags=EXCLUDED.tags, updated_at=now()`,
		t.Name, t.URL, t.Method, t.Owner, t.Category, tags,
	)
	if err != nil {
		return fmt.Errorf("upsert target: %w", err)
	}
	return nil
}

func (s *Store) Targets(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, url, method, owner, category, tags
		   FROM targets
		  ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		var t domain.Target
		if err := rows.Scan(&t.Name, &t.URL, &t.Method, &t.Owner, &t.Category, &t.Tags); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if len(t.Tags) == 0 {
			t.Tags = nil
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- ResultStore ----

const outcomeColumns = `target, ok, http_status, latency_ms, error, kind, version, uptime, checked_at`

func (s *Store) Append(ctx context.Context, o domain.ProbeOutcome) error {
	var statusPtr *int
	if o.HTTPStatus != 0 {
		statusPtr = &o.HTTPStatus
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes (`+outcomeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.Target, o.OK, statusPtr, o.LatencyMS, o.Error, string(o.Kind), o.Version, o.Uptime, o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, target string, limit int) ([]domain.ProbeOutcome, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeColumns+`
		   FROM outcomes
		  WHERE target = $1
		  ORDER BY checked_at DESC
		  LIMIT $2`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	return collectOutcomes(rows)
}

func (s *Store) Latest(ctx context.Context) ([]domain.ProbeOutcome, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (target) `+outcomeColumns+`
  FROM outcomes
 ORDER BY target, checked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}
	return collectOutcomes(rows)
}

func collectOutcomes(rows pgx.Rows) ([]domain.ProbeOutcome, error) {
	defer rows.Close()
	var out []domain.ProbeOutcome
	for rows.Next() {
		var (
			o      domain.ProbeOutcome
			status *int32
			kind   string
		)
		if err := rows.Scan(&o.Target, &o.OK, &status, &o.LatencyMS, &o.Error, &kind, &o.Version, &o.Uptime, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if status != nil {
			o.HTTPStatus = int(*status)
		}
		o.Kind = domain.ErrorKind(kind)
		o.Timestamp = o.Timestamp.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) Get(ctx context.Context, target string) (*repo.AlertRecord, error) {
	const q = `SELECT last_state, last_sent_at FROM alerts WHERE target=$1`
	r := repo.AlertRecord{Target: target}
	var lastSent *time.Time
	err := s.pool.QueryRow(ctx, q, target).Scan(&r.LastState, &lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.LastSentAt = lastSent
	return &r, nil
}

func (s *Store) Set(ctx context.Context, target string, lastState bool, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (target, last_state, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (target)
		DO UPDATE SET last_state=EXCLUDED.last_state, last_sent_at=EXCLUDED.last_sent_at
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, target, lastState, ts)
	return err
}
