package repo

import (
	"context"
	"time"
)

// AlertRecord is the alerter's memory for one target: the last UP/DOWN state
// it saw and when it last notified. A nil record means the target has never
// been seen.
type AlertRecord struct {
	Target     string     `json:"target"`
	LastState  bool       `json:"last_state"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

// Changed reports whether up differs from the recorded state. Everything is a
// change for an unseen target.
func (r *AlertRecord) Changed(up bool) bool {
	return r == nil || r.LastState != up
}

// CooledDown reports whether cooldown has passed since the last notification.
func (r *AlertRecord) CooledDown(now time.Time, cooldown time.Duration) bool {
	if r == nil || r.LastSentAt == nil {
		return true
	}
	return now.Sub(*r.LastSentAt) >= cooldown
}

type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, target string) (*AlertRecord, error)
	// Set upserts the record. A zero sentAt stores no send time.
	Set(ctx context.Context, target string, lastState bool, sentAt time.Time) error
}
