package checks

import (
	"context"
	"sync"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/google/uuid"
)

type ReportCall struct {
	CheckSuiteID uuid.UUID
	Succeeded    bool
	Message      string
}

type MockReporter struct {
	ReportFunc func(ctx context.Context, task *pipeline.TaskContext, checkSuiteID uuid.UUID, succeeded bool, message string) error

	mu    sync.Mutex
	Calls []ReportCall
}

func (r *MockReporter) Report(ctx context.Context, task *pipeline.TaskContext, checkSuiteID uuid.UUID, succeeded bool, message string) error {
	r.mu.Lock()
	r.Calls = append(r.Calls, ReportCall{CheckSuiteID: checkSuiteID, Succeeded: succeeded, Message: message})
	r.mu.Unlock()
	if r.ReportFunc != nil {
		return r.ReportFunc(ctx, task, checkSuiteID, succeeded, message)
	}
	return nil
}

func (r *MockReporter) Reported() []ReportCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReportCall(nil), r.Calls...)
}
