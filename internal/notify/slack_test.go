package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func fastSlack(url string) *Slack {
	s := NewSlack(url)
	s.Backoff = 1
	return s
}

func TestSlack_Payload(t *testing.T) {
	var got slackPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	require.NoError(t, fastSlack(ts.URL).Send(context.Background(), "api is DOWN", "status 503"))
	require.Equal(t, "*api is DOWN*\nstatus 503", got.Text)
	require.Len(t, got.Blocks, 2)
	require.Equal(t, "header", got.Blocks[0].Type)
	require.Equal(t, "api is DOWN", got.Blocks[0].Text.Text)
	require.Equal(t, "mrkdwn", got.Blocks[1].Text.Type)
}

func TestSlack_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	require.NoError(t, fastSlack(ts.URL).Send(context.Background(), "X", "Y"))
	require.EqualValues(t, 3, calls.Load())
}

func TestSlack_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	err := fastSlack(ts.URL).Send(context.Background(), "X", "Y")
	require.ErrorContains(t, err, "404")
	require.EqualValues(t, 1, calls.Load())
}

func TestSlack_Disabled(t *testing.T) {
	require.Nil(t, NewSlack(""))
	var s *Slack
	require.ErrorIs(t, s.Send(context.Background(), "X", "Y"), ErrSlackDisabled)
}
