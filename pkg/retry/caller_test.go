package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyServer fails with failStatus for the first failures requests and then returns 200.
func flakyServer(t *testing.T, failures int32, failStatus int) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		if failures < 0 || n <= failures {
			w.WriteHeader(failStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func postTo(url string) Operation {
	return func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, err
		}
		return http.DefaultClient.Do(req)
	}
}

func TestInvoke(t *testing.T) {
	testCases := []struct {
		name             string
		failures         int32
		failStatus       int
		expectedAttempts int32
		expectExhausted  bool
		expectedStatus   int
	}{
		{name: "success first time", failures: 0, failStatus: http.StatusInternalServerError, expectedAttempts: 1, expectedStatus: http.StatusOK},
		{name: "transient then success", failures: 3, failStatus: http.StatusServiceUnavailable, expectedAttempts: 4, expectedStatus: http.StatusOK},
		{name: "rate limited then success", failures: 2, failStatus: http.StatusTooManyRequests, expectedAttempts: 3, expectedStatus: http.StatusOK},
		{name: "always failing", failures: -1, failStatus: http.StatusBadGateway, expectedAttempts: DefaultMaxAttempts, expectExhausted: true},
		{name: "client error", failures: -1, failStatus: http.StatusBadRequest, expectedAttempts: 1, expectedStatus: http.StatusBadRequest},
		{name: "unauthorized", failures: -1, failStatus: http.StatusUnauthorized, expectedAttempts: 1, expectedStatus: http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server, hits := flakyServer(t, tc.failures, tc.failStatus)
			var observed []Attempt
			caller := NewCaller(WithBackoff(NoBackoff), WithHook(func(_ context.Context, a Attempt) {
				observed = append(observed, a)
			}))

			resp, err := caller.Invoke(context.Background(), postTo(server.URL))
			assert.Equal(t, tc.expectedAttempts, hits.Load())
			assert.Len(t, observed, int(tc.expectedAttempts))
			if tc.expectExhausted {
				require.Error(t, err)
				var exhausted *ExhaustedError
				require.ErrorAs(t, err, &exhausted)
				assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)
				assert.Contains(t, exhausted.Err.Error(), "502")
				assert.False(t, observed[len(observed)-1].Retry)
				return
			}
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.expectedStatus, resp.StatusCode)
		})
	}
}

func TestInvokeConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	var calls int
	caller := NewCaller(WithBackoff(NoBackoff), WithMaxAttempts(3))
	_, err := caller.Invoke(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return postTo(url)(ctx)
	})
	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestInvokeHookPanicDoesNotChangeOutcome(t *testing.T) {
	server, hits := flakyServer(t, 1, http.StatusInternalServerError)
	caller := NewCaller(WithBackoff(NoBackoff), WithHook(func(context.Context, Attempt) {
		panic("broken log sink")
	}))

	resp, err := caller.Invoke(context.Background(), postTo(server.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestInvokeCancelledDuringBackoff(t *testing.T) {
	server, hits := flakyServer(t, -1, http.StatusInternalServerError)
	caller := NewCaller(WithBackoff(func(time.Duration, time.Duration, int, *http.Response) time.Duration {
		return time.Hour
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := caller.Invoke(ctx, postTo(server.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), hits.Load())
}
