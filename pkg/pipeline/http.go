package pipeline

import (
	"net/http"
	"time"

	"github.com/docker/artifact-policy-check/internal/useragent"
	"github.com/hashicorp/go-cleanhttp"
)

type userAgentTransporter struct {
	roundTripper http.RoundTripper
}

func (u *userAgentTransporter) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", useragent.Get(req.Context()))

	return u.roundTripper.RoundTrip(req)
}

func HTTPTransport() http.RoundTripper {
	return &userAgentTransporter{
		roundTripper: cleanhttp.DefaultPooledTransport(),
	}
}

// NewHTTPClient returns a client for the pipeline APIs. A zero timeout leaves
// request lifetime to the caller's context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: HTTPTransport(),
		Timeout:   timeout,
	}
}
