package watcher

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
	"github.com/ramiqadoumi/go-poll-sync/internal/state"
)

func newTestMirror(t *testing.T, snap *domain.QueueSnapshot) (*httptest.Server, *state.Store) {
	t.Helper()
	store := state.NewStore()
	if snap != nil {
		store.Apply(snap)
	}
	srv := httptest.NewServer(NewMirror(store, testLogger()).Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func TestMirrorServesQueueSnapshot(t *testing.T) {
	srv, _ := newTestMirror(t, &domain.QueueSnapshot{
		Version: 7,
		Pending: []domain.QueueEntry{{QueueID: "q1", JobID: "job-a", Operation: "build", Position: 1}},
		Running: []domain.QueueEntry{{QueueID: "q2", JobID: "job-b", Operation: "build", RunID: "r1"}},
	})

	resp, err := http.Get(srv.URL + "/api/v1/queue")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.QueueSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(7), got.Version)
	require.Len(t, got.Pending, 1)
	assert.Equal(t, "job-a", got.Pending[0].JobID)
}

func TestMirrorQueueBeforeFirstSnapshot(t *testing.T) {
	srv, _ := newTestMirror(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/queue")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ready, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
}

func TestMirrorServesCounts(t *testing.T) {
	srv, _ := newTestMirror(t, &domain.QueueSnapshot{
		Version: 1,
		Pending: []domain.QueueEntry{{QueueID: "q1", JobID: "a"}, {QueueID: "q2", JobID: "b"}},
		Failed:  []domain.QueueEntry{{QueueID: "q3", JobID: "c"}},
	})

	resp, err := http.Get(srv.URL + "/api/v1/queue/counts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var counts domain.QueueCounts
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counts))
	assert.Equal(t, domain.QueueCounts{Pending: 2, Running: 0, Failed: 1}, counts)
}

func TestMirrorServesJobWithPosition(t *testing.T) {
	srv, _ := newTestMirror(t, &domain.QueueSnapshot{
		Version: 1,
		Pending: []domain.QueueEntry{{QueueID: "q1", JobID: "job-a", Operation: "build", Position: 3}},
	})

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-a")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got JobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "job-a", got.JobID)
	require.NotNil(t, got.Position)
	assert.Equal(t, 3, *got.Position)
}

func TestMirrorJobNotFound(t *testing.T) {
	srv, _ := newTestMirror(t, &domain.QueueSnapshot{Version: 1})

	resp, err := http.Get(srv.URL + "/api/v1/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "job not found", body["error"])
}

func TestMirrorRunningJobHasNoPosition(t *testing.T) {
	srv, _ := newTestMirror(t, &domain.QueueSnapshot{
		Version: 1,
		Running: []domain.QueueEntry{{QueueID: "q1", JobID: "job-b", RunID: "r1"}},
	})

	resp, err := http.Get(srv.URL + "/api/v1/jobs/job-b")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got JobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "r1", got.RunID)
	assert.Nil(t, got.Position)
}
