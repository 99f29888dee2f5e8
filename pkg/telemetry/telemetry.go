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

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/docker/artifact-policy-check/pkg/telemetry"
	eventsAPIVersion    = "5.0-preview.1"

	Area    = "PipelinesChecks"
	Feature = "ArtifactPolicy"
	Layer   = "policy-check service"

	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"

	DefaultTimeout = 10 * time.Second
)

// Event holds the properties of one evaluation telemetry event.
type Event map[string]any

// EvaluationEvent builds the event describing the outcome of an asynchronous evaluation.
func EvaluationEvent(task *pipeline.TaskContext, checkSuiteID uuid.UUID, succeeded bool, violationType string) Event {
	event := Event{
		"projectId":    task.ProjectID,
		"jobId":        task.JobID,
		"checkSuiteId": checkSuiteID.String(),
		"result":       ResultSucceeded,
		"layer":        Layer,
	}
	if !succeeded {
		event["result"] = ResultFailed
		event["reason"] = fmt.Sprintf("Found violations in evaluation. Violation type: %s", violationType)
	}
	return event
}

// Publisher emits telemetry events. Publish never blocks on delivery and never fails.
type Publisher interface {
	Publish(ctx context.Context, task *pipeline.TaskContext, event Event)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *pipeline.TaskContext, Event) {}

type customerIntelligenceEvent struct {
	Area       string `json:"area"`
	Feature    string `json:"feature"`
	Properties Event  `json:"properties"`
}

// HTTPPublisher posts events to the customer intelligence API of the pipeline host,
// once, on a background goroutine.
type HTTPPublisher struct {
	httpClient *http.Client
	timeout    time.Duration
	log        logrus.FieldLogger
	counter    metric.Int64Counter

	wg sync.WaitGroup
}

func NewHTTPPublisher(httpClient *http.Client, timeout time.Duration, log logrus.FieldLogger) *HTTPPublisher {
	if httpClient == nil {
		httpClient = pipeline.NewHTTPClient(0)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("policycheck.evaluations",
		metric.WithDescription("Completed asynchronous policy evaluations"))
	if err != nil {
		log.WithError(err).Debug("failed to create evaluation counter")
	}
	return &HTTPPublisher{
		httpClient: httpClient,
		timeout:    timeout,
		log:        log,
		counter:    counter,
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, task *pipeline.TaskContext, event Event) {
	if p.counter != nil {
		result, _ := event["result"].(string)
		p.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}

	t := *task
	// detached from the caller so a finished evaluation does not cancel delivery
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if err := p.send(ctx, &t, event); err != nil {
			p.log.WithError(err).Debug("failed to publish telemetry event")
		}
	}()
}

// Flush waits for in-flight events, or until ctx is done.
func (p *HTTPPublisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *HTTPPublisher) send(ctx context.Context, task *pipeline.TaskContext, event Event) error {
	payload, err := json.Marshal([]customerIntelligenceEvent{{Area: Area, Feature: Feature, Properties: event}})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/_apis/customerintelligence/Events?api-version=%s", task.BaseURL(), eventsAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	task.SetBasicAuth(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
