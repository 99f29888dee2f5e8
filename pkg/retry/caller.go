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

package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultMaxAttempts  = 5
	DefaultRetryWaitMin = 1 * time.Second
	DefaultRetryWaitMax = 30 * time.Second

	// limits how much of a discarded response body is read so the connection can be reused
	respReadLimit = int64(4096)
)

// Operation performs one attempt of an idempotent HTTP call. It is invoked once per
// attempt and must build a fresh request each time.
type Operation func(ctx context.Context) (*http.Response, error)

// Attempt describes the outcome of a single attempt, reported to the Hook.
type Attempt struct {
	Number     int
	StatusCode int
	Err        error
	Retry      bool
	Wait       time.Duration
}

// Hook observes attempts. It cannot influence retry decisions.
type Hook func(ctx context.Context, attempt Attempt)

// ExhaustedError is returned when every attempt failed with a retriable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Caller invokes operations with bounded retries. Connection failures, timeouts,
// 429 and 5xx responses are retried; other responses are returned as they are.
type Caller struct {
	MaxAttempts  int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	CheckRetry   retryablehttp.CheckRetry
	Backoff      retryablehttp.Backoff
	Hook         Hook
}

type Option func(*Caller)

func WithMaxAttempts(n int) Option {
	return func(c *Caller) {
		c.MaxAttempts = n
	}
}

func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *Caller) {
		c.RetryWaitMin = minWait
		c.RetryWaitMax = maxWait
	}
}

func WithBackoff(backoff retryablehttp.Backoff) Option {
	return func(c *Caller) {
		c.Backoff = backoff
	}
}

func WithHook(hook Hook) Option {
	return func(c *Caller) {
		c.Hook = hook
	}
}

func NewCaller(opts ...Option) *Caller {
	c := &Caller{
		MaxAttempts:  DefaultMaxAttempts,
		RetryWaitMin: DefaultRetryWaitMin,
		RetryWaitMax: DefaultRetryWaitMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	return c
}

// Invoke runs op until it succeeds, fails with a non-retriable error, or the attempt
// bound is reached. A non-retriable response (e.g. 400) is returned with a nil error;
// the caller owns its body.
func (c *Caller) Invoke(ctx context.Context, op Operation) (*http.Response, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := op(ctx)

		shouldRetry, checkErr := c.CheckRetry(ctx, resp, err)
		if !shouldRetry {
			c.observe(ctx, Attempt{Number: attempt, StatusCode: statusCode(resp), Err: firstErr(err, checkErr)})
			if err == nil && checkErr != nil {
				drainBody(resp)
				return nil, checkErr
			}
			if err != nil {
				return nil, err
			}
			return resp, nil
		}

		lastErr = firstErr(err, checkErr)
		if lastErr == nil {
			lastErr = fmt.Errorf("unexpected HTTP status %s", resp.Status)
		}

		if attempt >= c.MaxAttempts {
			c.observe(ctx, Attempt{Number: attempt, StatusCode: statusCode(resp), Err: lastErr})
			drainBody(resp)
			return nil, &ExhaustedError{Attempts: attempt, Err: lastErr}
		}

		wait := c.Backoff(c.RetryWaitMin, c.RetryWaitMax, attempt, resp)
		c.observe(ctx, Attempt{Number: attempt, StatusCode: statusCode(resp), Err: lastErr, Retry: true, Wait: wait})
		drainBody(resp)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry interrupted after %d attempt(s): %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Caller) observe(ctx context.Context, attempt Attempt) {
	if c.Hook == nil {
		return
	}
	// a misbehaving hook must not change the outcome of the call
	defer func() {
		_ = recover()
	}()
	c.Hook(ctx, attempt)
}

func statusCode(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, respReadLimit))
	resp.Body.Close()
}

// NoBackoff retries immediately. Intended for tests.
func NoBackoff(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return 0
}
