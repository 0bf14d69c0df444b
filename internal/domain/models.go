package domain

import "time"

// Target is a named, URL-addressed service to be health-checked.
type Target struct {
	Name     string   `json:"name" yaml:"name"`
	URL      string   `json:"url" yaml:"url"`
	Method   string   `json:"method,omitempty" yaml:"method"`
	Owner    string   `json:"owner,omitempty" yaml:"owner"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
}

// ProbeOutcome is the immutable record of one probe attempt.
type ProbeOutcome struct {
	Target     string    `json:"target"`
	Timestamp  time.Time `json:"timestamp"`
	OK         bool      `json:"ok"`
	HTTPStatus int       `json:"http_status,omitempty"` // 0 when no response was received
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Version    string    `json:"version,omitempty"`
	Uptime     string    `json:"uptime,omitempty"`
}

// Skipped reports whether the probe was short-circuited by an open breaker
// rather than attempted.
func (o ProbeOutcome) Skipped() bool {
	return o.Kind == KindCircuitOpen
}
