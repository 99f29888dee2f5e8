package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCheckSuiteID = uuid.MustParse("0b8a51c3-54a5-4f5b-8f68-0f0e8fb4e1a2")

func TestEvaluationEvent(t *testing.T) {
	task := &pipeline.TaskContext{ProjectID: "project", JobID: "job"}

	succeeded := EvaluationEvent(task, testCheckSuiteID, true, "None")
	assert.Equal(t, Event{
		"projectId":    "project",
		"jobId":        "job",
		"checkSuiteId": testCheckSuiteID.String(),
		"result":       ResultSucceeded,
		"layer":        Layer,
	}, succeeded)

	failed := EvaluationEvent(task, testCheckSuiteID, false, "PolicyViolation")
	assert.Equal(t, ResultFailed, failed["result"])
	assert.Equal(t, "Found violations in evaluation. Violation type: PolicyViolation", failed["reason"])
}

func TestHTTPPublisher(t *testing.T) {
	var mu sync.Mutex
	var received []customerIntelligenceEvent
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/org/_apis/customerintelligence/Events", r.URL.Path)
		_, pass, _ := r.BasicAuth()
		assert.Equal(t, "token", pass)
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	publisher := NewHTTPPublisher(server.Client(), time.Second, nil)
	task := &pipeline.TaskContext{AccountURL: server.URL + "/org", AuthToken: "token", ProjectID: "project", JobID: "job"}

	ctx, cancel := context.WithCancel(context.Background())
	publisher.Publish(ctx, task, EvaluationEvent(task, testCheckSuiteID, false, "PolicyViolation"))
	// cancelling the caller does not cancel delivery
	cancel()
	require.NoError(t, publisher.Flush(context.Background()))

	assert.Equal(t, int32(1), hits.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, Area, received[0].Area)
	assert.Equal(t, Feature, received[0].Feature)
	assert.Equal(t, ResultFailed, received[0].Properties["result"])
}

func TestHTTPPublisherFailureIsSwallowed(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	local, hook := test.NewNullLogger()
	local.SetLevel(logrus.DebugLevel)
	publisher := NewHTTPPublisher(server.Client(), time.Second, local)
	task := &pipeline.TaskContext{AccountURL: server.URL, AuthToken: "token"}

	publisher.Publish(context.Background(), task, Event{"result": ResultSucceeded})
	require.NoError(t, publisher.Flush(context.Background()))

	// never retried
	assert.Equal(t, int32(1), hits.Load())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}
