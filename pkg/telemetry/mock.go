package telemetry

import (
	"context"
	"sync"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
)

type MockPublisher struct {
	PublishFunc func(ctx context.Context, task *pipeline.TaskContext, event Event)

	mu     sync.Mutex
	Events []Event
}

func (p *MockPublisher) Publish(ctx context.Context, task *pipeline.TaskContext, event Event) {
	p.mu.Lock()
	p.Events = append(p.Events, event)
	p.mu.Unlock()
	if p.PublishFunc != nil {
		p.PublishFunc(ctx, task, event)
	}
}

func (p *MockPublisher) Published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.Events...)
}
