package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/google/uuid"
)

// Request asks for a policy to be evaluated against an artifact's provenance. The
// presence of AuthToken selects asynchronous evaluation.
type Request struct {
	ImageProvenance json.RawMessage     `json:"imageProvenance"`
	PolicyData      string              `json:"policyData"`
	CheckSuiteID    string              `json:"checkSuiteId,omitempty"`
	AuthToken       string              `json:"authToken,omitempty"`
	Variables       *pipeline.Variables `json:"variables,omitempty"`

	PlanURL          string `json:"planUrl,omitempty"`
	ProjectID        string `json:"projectId,omitempty"`
	HubName          string `json:"hubName,omitempty"`
	PlanID           string `json:"planId,omitempty"`
	JobID            string `json:"jobId,omitempty"`
	TimelineID       string `json:"timelineId,omitempty"`
	TaskInstanceID   string `json:"taskInstanceId,omitempty"`
	TaskInstanceName string `json:"taskInstanceName,omitempty"`
}

// RequestError is a problem with the request itself. It is reported to the caller
// and never retried.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func requestErrorf(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

func ParseRequest(r io.Reader) (*Request, error) {
	req := new(Request)
	dec := json.NewDecoder(r)
	if err := dec.Decode(req); err != nil {
		return nil, requestErrorf("Request body is invalid. Encountered error : %v", err)
	}
	return req, nil
}

// Validate checks the fields required by both evaluation modes.
func (r *Request) Validate() error {
	provenance := bytes.TrimSpace(r.ImageProvenance)
	if len(provenance) == 0 || bytes.Equal(provenance, []byte("null")) {
		return requestErrorf("Image provenance is empty")
	}
	if strings.TrimSpace(r.PolicyData) == "" {
		return requestErrorf("Policy data is empty")
	}
	return nil
}

func (r *Request) IsAsync() bool {
	return strings.TrimSpace(r.AuthToken) != ""
}

func (r *Request) TaskContext() *pipeline.TaskContext {
	return &pipeline.TaskContext{
		AccountURL:       r.PlanURL,
		AuthToken:        r.AuthToken,
		ProjectID:        r.ProjectID,
		HubName:          r.HubName,
		PlanID:           r.PlanID,
		JobID:            r.JobID,
		TimelineID:       r.TimelineID,
		TaskInstanceID:   r.TaskInstanceID,
		TaskInstanceName: r.TaskInstanceName,
	}
}

// job is the part of a request owned by a background evaluation. It shares nothing
// with the request it was copied from.
type job struct {
	provenance   json.RawMessage
	policy       string
	checkSuiteID uuid.UUID
	task         pipeline.TaskContext
	variables    *pipeline.Variables
}

func newJob(r *Request) (*job, error) {
	task := r.TaskContext()
	if err := task.Validate(); err != nil {
		return nil, requestErrorf("Task context is incomplete: %s", strings.ReplaceAll(err.Error(), "\n", ", "))
	}
	checkSuiteID, err := uuid.Parse(r.CheckSuiteID)
	if err != nil {
		return nil, requestErrorf("Check suite id %q is invalid: %v", r.CheckSuiteID, err)
	}
	return &job{
		provenance:   append(json.RawMessage(nil), r.ImageProvenance...),
		policy:       r.PolicyData,
		checkSuiteID: checkSuiteID,
		task:         *task,
		variables:    pipeline.CopyVariables(r.Variables),
	}, nil
}
