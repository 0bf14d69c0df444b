//go:build integration

package postgres

// go test -tags=integration ./internal/repo/postgres -run Alerts -count=1

import (
	"testing"

	"github.com/hamed0406/heartbeat/internal/repo/repotest"
)

func TestAlerts(t *testing.T) {
	repotest.AlertStore(t, openStore(t))
}
