// Package repotest holds behavior checks every store implementation must
// pass. Adapter tests call them with a fresh store.
package repotest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hamed0406/heartbeat/internal/repo"
)

// AlertStore checks the Get/Set round trip, including the cooldown helpers
// the alerter relies on. Target names are unique per call so shared
// databases can be reused.
func AlertStore(t *testing.T, s repo.AlertStore) {
	t.Helper()
	ctx := context.Background()
	name := fmt.Sprintf("alert-%d", time.Now().UnixNano())

	rec, err := s.Get(ctx, name)
	require.NoError(t, err)
	require.Nil(t, rec, "unseen target")
	require.True(t, rec.Changed(false))
	require.True(t, rec.CooledDown(time.Now(), time.Hour))

	require.NoError(t, s.Set(ctx, name, false, time.Time{}))
	rec, err = s.Get(ctx, name)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, name, rec.Target)
	require.False(t, rec.LastState)
	require.Nil(t, rec.LastSentAt)
	require.False(t, rec.Changed(false))
	require.True(t, rec.Changed(true))

	sent := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Set(ctx, name, true, sent))
	rec, err = s.Get(ctx, name)
	require.NoError(t, err)
	require.True(t, rec.LastState)
	require.NotNil(t, rec.LastSentAt)
	require.WithinDuration(t, sent, *rec.LastSentAt, time.Millisecond)
	require.False(t, rec.CooledDown(sent.Add(time.Minute), 10*time.Minute))
	require.True(t, rec.CooledDown(sent.Add(10*time.Minute), 10*time.Minute))

	require.NoError(t, s.Set(ctx, name, false, time.Time{}))
	rec, err = s.Get(ctx, name)
	require.NoError(t, err)
	require.Nil(t, rec.LastSentAt, "zero sentAt clears the send time")
}
