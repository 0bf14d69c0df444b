package repo

import (
	"context"

	"github.com/hamed0406/heartbeat/internal/domain"
)

// Ports (interfaces) — swap in any DB adapter later.

// ResultStore persists probe outcomes beyond the in-memory ring buffers.
type ResultStore interface {
	Append(ctx context.Context, o domain.ProbeOutcome) error
	// Recent returns up to limit outcomes for target, newest first.
	Recent(ctx context.Context, target string, limit int) ([]domain.ProbeOutcome, error)
	// Latest returns the newest outcome of every target that has one.
	Latest(ctx context.Context) ([]domain.ProbeOutcome, error)
}

// TargetStore is an alternative target source to the YAML file.
type TargetStore interface {
	Upsert(ctx context.Context, t domain.Target) error
	Targets(ctx context.Context) ([]domain.Target, error)
}
