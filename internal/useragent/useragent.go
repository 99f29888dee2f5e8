package useragent

import (
	"context"

	"github.com/docker/artifact-policy-check/internal/version"
)

type userAgentKeyType string

const (
	userAgentKey     userAgentKeyType = "policycheck-user-agent"
	defaultUserAgent string           = "policycheck/unknown (docker)"
)

func Set(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// Get retrieves the HTTP user agent from the context.
func Get(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey).(string); ok {
		return ua
	}
	version, err := version.Get()
	if err != nil || version == nil {
		return defaultUserAgent
	}

	return "policycheck/" + version.String() + " (docker)"
}
