package checks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/docker/artifact-policy-check/pkg/evallog"
	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/docker/artifact-policy-check/pkg/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCheckSuiteID = uuid.MustParse("6f0c3a0e-6a4b-4c5b-9a52-4a1f0a5b8c11")

func testTask(url string) *pipeline.TaskContext {
	return &pipeline.TaskContext{
		AccountURL: url + "/org",
		AuthToken:  "token",
		ProjectID:  "project",
	}
}

func TestCheckSuiteResultWireFormat(t *testing.T) {
	result := NewCheckSuiteResult(testCheckSuiteID, false, "found 1 violation", 0)
	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"6f0c3a0e-6a4b-4c5b-9a52-4a1f0a5b8c11":{"status":"rejected","resultMessage":"found 1 violation"}}`, string(data))

	var decoded CheckSuiteResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, result, decoded)

	require.Error(t, json.Unmarshal([]byte(`{"not-a-uuid":{"status":"approved"}}`), &decoded))
	require.Error(t, json.Unmarshal([]byte(`{}`), &decoded))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 100))
	assert.Equal(t, "unbounded", truncate("unbounded", 0))

	long := strings.Repeat("é", 100)
	out := truncate(long, 50)
	assert.LessOrEqual(t, len(out), 50)
	assert.True(t, strings.HasSuffix(out, truncationMarker))
	assert.True(t, strings.HasPrefix(out, "é"))
	assert.NotContains(t, out, "�")
}

func TestReport(t *testing.T) {
	var hits atomic.Int32
	var mu sync.Mutex
	var got CheckSuiteResult
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/org/project/_apis/pipelines/checks/runs/"+testCheckSuiteID.String(), r.URL.Path)
		assert.Equal(t, "5.0", r.URL.Query().Get("api-version"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Basic "+pipeline.BasicAuth("token"), r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		assert.NoError(t, json.Unmarshal(body, &got))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	local, hook := test.NewNullLogger()
	logger := evallog.New(local, evallog.WithCapture())
	ctx := evallog.WithLogger(context.Background(), logger)

	reporter := NewReporter(
		WithHTTPClient(server.Client()),
		WithCaller(retry.NewCaller(retry.WithBackoff(retry.NoBackoff))),
	)
	err := reporter.Report(ctx, testTask(server.URL), testCheckSuiteID, true, "all good")
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "all good", got.ResultMessage)
	assert.Contains(t, logger.Output(), "to post current check status")
	assert.Contains(t, logger.Output(), "Attempt 1 to post check status failed")
	assert.NotEmpty(t, hook.Entries)
}

func TestReportFailures(t *testing.T) {
	testCases := []struct {
		name         string
		status       int
		expectedHits int32
		expectError  string
	}{
		{name: "permanent server failure", status: http.StatusInternalServerError, expectedHits: retry.DefaultMaxAttempts, expectError: "giving up after 5 attempt(s)"},
		{name: "client error", status: http.StatusForbidden, expectedHits: 1, expectError: "403"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			reporter := NewReporter(
				WithHTTPClient(server.Client()),
				WithCaller(retry.NewCaller(retry.WithBackoff(retry.NoBackoff))),
			)
			err := reporter.Report(context.Background(), testTask(server.URL), testCheckSuiteID, false, "denied")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectError)
			assert.Equal(t, tc.expectedHits, hits.Load())
		})
	}
}
