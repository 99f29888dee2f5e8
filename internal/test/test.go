package test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	CheckSuiteID = "3c5b8f1e-2d4a-4b6c-9e8f-0a1b2c3d4e5f"
	AuthToken    = "pipeline-token"

	Provenance = `{
  "_type": "https://in-toto.io/Statement/v0.1",
  "predicateType": "https://slsa.dev/provenance/v0.2",
  "subject": [{"name": "pkg:docker/alpine@3.20?platform=linux%2Famd64", "digest": {"sha256": "da8b190665956ea07890a0273e2a9c96bfe291662f08e2860e868eef69c34620"}}],
  "predicate": {"builder": {"id": "https://github.com/docker/buildx"}, "buildType": "https://mobyproject.org/buildkit@v1"}
}`

	AllowAllPolicy = `package allow_all
import rego.v1

violations := []
`

	DenyAllPolicy = `package deny_all
import rego.v1

violations contains {"type": "deny", "description": "all artifacts are denied"} if true

violation_type := "PolicyViolation"
`
)

func CreateTempDir(t *testing.T, dir, pattern string) string {
	tempDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.RemoveAll(tempDir); err != nil {
			t.Errorf("Failed to remove temp directory: %v", err)
		}
	})
	return tempDir
}

// RequestBody builds a policy check request body. Passing a non-empty planURL adds
// the full task context, which makes the request asynchronous.
func RequestBody(t *testing.T, policy, planURL string) string {
	t.Helper()
	body := map[string]any{
		"imageProvenance": json.RawMessage(Provenance),
		"policyData":      policy,
		"variables":       map[string]string{"builder": "https://github.com/docker/buildx"},
	}
	if planURL != "" {
		body["checkSuiteId"] = CheckSuiteID
		body["authToken"] = AuthToken
		body["planUrl"] = planURL
		body["projectId"] = "project"
		body["hubName"] = "build"
		body["planId"] = "plan"
		body["jobId"] = "job"
		body["timelineId"] = "timeline"
		body["taskInstanceId"] = "task"
		body["taskInstanceName"] = "Artifact policy check"
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return string(data)
}

// Call is one request received by a PipelineServer.
type Call struct {
	Method string
	Path   string
	Body   string
}

// PipelineServer stands in for the pipeline service: check runs, timelines and
// telemetry all answer 200 and every call is recorded.
type PipelineServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls []Call
}

func NewPipelineServer(t *testing.T) *PipelineServer {
	s := &PipelineServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

// Calls returns the recorded calls whose path contains fragment.
func (s *PipelineServer) Calls(fragment string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var calls []Call
	for _, c := range s.calls {
		if strings.Contains(c.Path, fragment) {
			calls = append(calls, c)
		}
	}
	return calls
}

// WaitForCalls polls until n calls matching fragment arrived or the timeout expires.
func (s *PipelineServer) WaitForCalls(t *testing.T, fragment string, n int, timeout time.Duration) []Call {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		calls := s.Calls(fragment)
		if len(calls) >= n || time.Now().After(deadline) {
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
}
