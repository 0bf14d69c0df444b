package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hamed0406/heartbeat/internal/domain"
)

const maxBodyBytes = 64 << 10

type HTTPChecker struct {
	Client *http.Client
}

// NewHTTPChecker builds a checker whose client gives up after timeout. The
// prober also puts a deadline on the request context; the client timeout is a
// backstop for callers that don't.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, t domain.Target) CheckResult {
	method := t.Method
	if method == "" {
		method = http.MethodGet
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, t.URL, nil)
	if err != nil {
		return CheckResult{Success: false, Kind: domain.KindNetwork, Message: err.Error()}
	}
	req.Header.Set("User-Agent", "heartbeat/1")
	req.Header.Set("Accept", "application/json, */*;q=0.5")

	resp, err := h.Client.Do(req)
	if err != nil {
		return CheckResult{
			Success:   false,
			Kind:      classify(ctx, err),
			Message:   err.Error(),
			LatencyMS: time.Since(start).Seconds() * 1000,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start).Seconds() * 1000 // ms

	out := CheckResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency,
		Message:    resp.Status,
	}
	if !out.Success {
		out.Kind = domain.KindHTTPStatus
	}
	out.Version, out.Uptime = statusFields(body)
	return out
}

// statusFields pulls optional version/uptime fields from a JSON body.
// Anything unparseable is ignored.
func statusFields(body []byte) (version, uptime string) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return "", ""
	}
	if v := gjson.GetBytes(body, "version"); v.Exists() {
		version = v.String()
	}
	if u := gjson.GetBytes(body, "uptime"); u.Exists() {
		uptime = u.String()
	}
	return version, uptime
}

func classify(ctx context.Context, err error) domain.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return domain.KindCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.KindTimeout
	}
	return domain.KindNetwork
}
