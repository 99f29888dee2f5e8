/*
   Copyright Docker attest authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/google/uuid"
)

const (
	apiVersion         = "4.1"
	DefaultRecordName  = "Evaluate artifact policies"
	recordTypeTask     = "Task"
	stateInProgress    = "inProgress"
	stateCompleted     = "completed"
	maxErrorBodyLength = 1024
)

var ErrNoRecord = errors.New("timeline record has not been created")

// Sink is the timeline log of one evaluation.
type Sink interface {
	// CreateRecordIfAbsent creates a timeline record unless the task context already names one.
	CreateRecordIfAbsent(ctx context.Context) error
	Append(ctx context.Context, text string) error
	Close(ctx context.Context) error
}

type Factory interface {
	NewSink(task *pipeline.TaskContext) Sink
}

type Record struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId,omitempty"`
	Type       string     `json:"type,omitempty"`
	Name       string     `json:"name,omitempty"`
	Order      int        `json:"order,omitempty"`
	State      string     `json:"state"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	FinishTime *time.Time `json:"finishTime,omitempty"`
}

type recordsUpdate struct {
	Count int       `json:"count"`
	Value []*Record `json:"value"`
}

type feed struct {
	Count  int      `json:"count"`
	Value  []string `json:"value"`
	StepID string   `json:"stepId"`
}

// Client talks to the distributed task timeline API of the pipeline host.
type Client struct {
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = pipeline.NewHTTPClient(30 * time.Second)
	}
	return &Client{
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (c *Client) NewSink(task *pipeline.TaskContext) Sink {
	t := *task
	return &recordSink{
		client:   c,
		task:     &t,
		recordID: task.TaskInstanceID,
	}
}

type recordSink struct {
	client *Client
	task   *pipeline.TaskContext

	mu       sync.Mutex
	recordID string
	closed   bool
}

func (s *recordSink) CreateRecordIfAbsent(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordID != "" {
		return nil
	}
	name := s.task.TaskInstanceName
	if name == "" {
		name = DefaultRecordName
	}
	start := s.client.now().UTC()
	record := &Record{
		ID:        uuid.NewString(),
		ParentID:  s.task.JobID,
		Type:      recordTypeTask,
		Name:      name,
		Order:     1,
		State:     stateInProgress,
		StartTime: &start,
	}
	err := s.client.do(ctx, s.task, http.MethodPatch, s.recordsURL(), &recordsUpdate{Count: 1, Value: []*Record{record}})
	if err != nil {
		return fmt.Errorf("failed to create timeline record: %w", err)
	}
	s.recordID = record.ID
	return nil
}

func (s *recordSink) Append(ctx context.Context, text string) error {
	s.mu.Lock()
	recordID, closed := s.recordID, s.closed
	s.mu.Unlock()
	if recordID == "" {
		return ErrNoRecord
	}
	if closed {
		return fmt.Errorf("timeline record %s is closed", recordID)
	}
	u := fmt.Sprintf("%s/%s/feed?api-version=%s", s.timelineURL(), url.PathEscape(s.task.JobID), apiVersion)
	err := s.client.do(ctx, s.task, http.MethodPost, u, &feed{Count: 1, Value: []string{text}, StepID: recordID})
	if err != nil {
		return fmt.Errorf("failed to append to timeline record: %w", err)
	}
	return nil
}

// Close marks the record completed. It is a no-op if no record was created or it is already closed.
func (s *recordSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordID == "" || s.closed {
		return nil
	}
	s.closed = true
	finish := s.client.now().UTC()
	record := &Record{
		ID:         s.recordID,
		State:      stateCompleted,
		FinishTime: &finish,
	}
	err := s.client.do(ctx, s.task, http.MethodPatch, s.recordsURL(), &recordsUpdate{Count: 1, Value: []*Record{record}})
	if err != nil {
		return fmt.Errorf("failed to complete timeline record: %w", err)
	}
	return nil
}

func (s *recordSink) timelineURL() string {
	return fmt.Sprintf("%s/%s/_apis/distributedtask/hubs/%s/plans/%s/timelines/%s/records",
		s.task.BaseURL(),
		url.PathEscape(s.task.ProjectID),
		url.PathEscape(s.task.HubName),
		url.PathEscape(s.task.PlanID),
		url.PathEscape(s.task.TimelineID))
}

func (s *recordSink) recordsURL() string {
	return s.timelineURL() + "?api-version=" + apiVersion
}

func (c *Client) do(ctx context.Context, task *pipeline.TaskContext, method, u string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	task.SetBasicAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
