package evallog

import (
	"strings"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
)

// Expand replaces $(name) references with the value of the pipeline variable name,
// applying variables in the order they were sent. Unknown references are left as is.
func Expand(message string, vars *pipeline.Variables) string {
	if vars == nil || !strings.Contains(message, "$(") {
		return message
	}
	for pair := vars.Oldest(); pair != nil; pair = pair.Next() {
		message = strings.ReplaceAll(message, "$("+pair.Key+")", pair.Value)
	}
	return message
}
