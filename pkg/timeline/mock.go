package timeline

import (
	"context"
	"sync"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
)

type MockSink struct {
	CreateRecordIfAbsentFunc func(ctx context.Context) error
	AppendFunc               func(ctx context.Context, text string) error
	CloseFunc                func(ctx context.Context) error

	mu     sync.Mutex
	Lines  []string
	Closes int
}

func (s *MockSink) CreateRecordIfAbsent(ctx context.Context) error {
	if s.CreateRecordIfAbsentFunc != nil {
		return s.CreateRecordIfAbsentFunc(ctx)
	}
	return nil
}

func (s *MockSink) Append(ctx context.Context, text string) error {
	s.mu.Lock()
	s.Lines = append(s.Lines, text)
	s.mu.Unlock()
	if s.AppendFunc != nil {
		return s.AppendFunc(ctx, text)
	}
	return nil
}

func (s *MockSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.Closes++
	s.mu.Unlock()
	if s.CloseFunc != nil {
		return s.CloseFunc(ctx)
	}
	return nil
}

func (s *MockSink) Snapshot() (lines []string, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Lines...), s.Closes
}

// MockFactory hands out the same sink for every task.
type MockFactory struct {
	Sink *MockSink
}

func (f *MockFactory) NewSink(_ *pipeline.TaskContext) Sink {
	return f.Sink
}
