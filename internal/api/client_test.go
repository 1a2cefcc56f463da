package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
)

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"state_version": 7,
			"pending": [{"queue_id":"q1","job_id":"j1","operation":"build","position":1}],
			"running": [{"queue_id":"q2","job_id":"j2","operation":"build","run_id":"r2"}],
			"failed": [],
			"history": []
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Version)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, "j1", snap.Pending[0].JobID)
	require.Len(t, snap.Running, 1)
	assert.Equal(t, "r2", snap.Running[0].RunID)
}

func TestFetchLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/runs/r1/logs", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("since"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"logs": [{"index":100,"message":"compiling"}],
			"next_index": 101,
			"total_count": 150,
			"status": "running",
			"layer_status": {"parse":"done"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	batch, err := c.FetchLogs(context.Background(), "r1", 100, 100)
	require.NoError(t, err)
	require.Len(t, batch.Logs, 1)
	assert.Equal(t, int64(100), batch.Logs[0].Index)
	assert.Equal(t, int64(101), batch.NextIndex)
	assert.Equal(t, int64(150), batch.TotalCount)
	assert.Equal(t, domain.RunStatusRunning, batch.Status)
	assert.Equal(t, "done", batch.LayerStatus["parse"])
}

func TestFetchLogs_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"run unknown"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchLogs(context.Background(), "ghost", 0, 100)
	var notFound *domain.RunNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.RunID)
}

func TestFetchSnapshot_ServiceUnavailableStatuses(t *testing.T) {
	for _, code := range []int{http.StatusBadGateway, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))

		c := NewClient(srv.URL)
		_, err := c.FetchSnapshot(context.Background())
		var unavailable *domain.ServiceUnavailableError
		require.ErrorAs(t, err, &unavailable, "status %d must classify as unavailable", code)
		assert.Equal(t, code, unavailable.StatusCode)
		srv.Close()
	}
}

func TestFetchSnapshot_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing is listening any more

	c := NewClient(srv.URL)
	_, err := c.FetchSnapshot(context.Background())
	var unavailable *domain.ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 0, unavailable.StatusCode, "no response means no status code")
}

func TestFetchSnapshot_CancellationIsNotClassified(t *testing.T) {
	inFlight := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(inFlight)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(srv.URL)
	errc := make(chan error, 1)
	go func() {
		_, err := c.FetchSnapshot(ctx)
		errc <- err
	}()

	<-inFlight
	cancel()

	err := <-errc
	require.ErrorIs(t, err, context.Canceled)
	var unavailable *domain.ServiceUnavailableError
	assert.False(t, errors.As(err, &unavailable), "an aborted request is not a service outage")
}

func TestFetchSnapshot_GenericHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchSnapshot(context.Background())
	var httpErr *domain.HTTPStatusError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, "boom", httpErr.Message)

	var unavailable *domain.ServiceUnavailableError
	assert.False(t, errors.As(err, &unavailable), "500 is not the unavailable class")
}

func TestFetchSnapshot_MalformedBodyIsGenericError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchSnapshot(context.Background())
	var httpErr *domain.HTTPStatusError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusOK, httpErr.StatusCode)
}
