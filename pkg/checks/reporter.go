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

package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/docker/artifact-policy-check/pkg/evallog"
	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/docker/artifact-policy-check/pkg/retry"
	"github.com/google/uuid"
)

const (
	checkRunsAPIVersion    = "5.0"
	DefaultMaxMessageBytes = 64 * 1024
	maxErrorBodyLength     = 1024
)

// Reporter delivers the verdict of an asynchronous evaluation to the check runs API.
type Reporter interface {
	Report(ctx context.Context, task *pipeline.TaskContext, checkSuiteID uuid.UUID, succeeded bool, message string) error
}

type HTTPReporter struct {
	httpClient      *http.Client
	caller          *retry.Caller
	maxMessageBytes int
}

type Option func(*HTTPReporter)

func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPReporter) {
		r.httpClient = c
	}
}

func WithCaller(c *retry.Caller) Option {
	return func(r *HTTPReporter) {
		r.caller = c
	}
}

func WithMaxMessageBytes(n int) Option {
	return func(r *HTTPReporter) {
		r.maxMessageBytes = n
	}
}

func NewReporter(opts ...Option) *HTTPReporter {
	r := &HTTPReporter{
		maxMessageBytes: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = pipeline.NewHTTPClient(30 * time.Second)
	}
	if r.caller == nil {
		r.caller = retry.NewCaller()
	}
	if r.caller.Hook == nil {
		r.caller.Hook = LogAttempt
	}
	return r
}

// CheckRunURL is the endpoint that receives the result of a check suite.
func CheckRunURL(task *pipeline.TaskContext, checkSuiteID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/_apis/pipelines/checks/runs/%s?api-version=%s",
		task.BaseURL(), url.PathEscape(task.ProjectID), checkSuiteID, checkRunsAPIVersion)
}

func (r *HTTPReporter) Report(ctx context.Context, task *pipeline.TaskContext, checkSuiteID uuid.UUID, succeeded bool, message string) error {
	result := NewCheckSuiteResult(checkSuiteID, succeeded, message, r.maxMessageBytes)
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal check suite result: %w", err)
	}
	u := CheckRunURL(task, checkSuiteID)
	evallog.FromContext(ctx).Logf(ctx, "Invoking %s to post current check status", u)

	resp, err := r.caller.Invoke(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		task.SetBasicAuth(req)
		return r.httpClient.Do(req)
	})
	if err != nil {
		return fmt.Errorf("failed to post check status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		return fmt.Errorf("failed to post check status: unexpected status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogAttempt reports retry attempts to the evaluation logger carried by ctx.
func LogAttempt(ctx context.Context, a retry.Attempt) {
	if a.Err == nil {
		return
	}
	l := evallog.FromContext(ctx)
	if a.Retry {
		l.Logf(ctx, "Attempt %d to post check status failed: %v. Retrying in %s", a.Number, a.Err, a.Wait)
		return
	}
	l.Logf(ctx, "Attempt %d to post check status failed: %v", a.Number, a.Err)
}
