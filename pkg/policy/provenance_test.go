package policy

import (
	"encoding/json"
	"testing"

	intoto "github.com/in-toto/in-toto-golang/in_toto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeProvenance(t *testing.T) {
	raw := json.RawMessage(`{
		"_type": "https://in-toto.io/Statement/v0.1",
		"predicateType": "https://slsa.dev/provenance/v0.2",
		"subject": [
			{"name": "pkg:docker/alpine@3.19?platform=linux%2Famd64", "digest": {"sha256": "abc"}},
			{"name": "docker.io/myorg/app", "digest": {"sha512": "def"}},
			{"name": "not a valid reference!"}
		]
	}`)
	summary, err := SummarizeProvenance(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://slsa.dev/provenance/v0.2", summary.PredicateType)
	assert.Equal(t, []string{"alpine:3.19@sha256:abc", "myorg/app@sha512:def", "not a valid reference!"}, summary.Subjects)
	assert.Contains(t, summary.String(), "alpine:3.19@sha256:abc")

	_, err = SummarizeProvenance(json.RawMessage(`{"digest":"sha256:abc"}`))
	require.Error(t, err)
}

func TestUnwrapProvenance(t *testing.T) {
	raw := json.RawMessage(`{"digest":"sha256:abc"}`)
	out, err := UnwrapProvenance(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))

	_, err = UnwrapProvenance(json.RawMessage(`{"payloadType":"application/vnd.in-toto+json","payload":"%%%"}`))
	require.Error(t, err)
}

func TestSubjectString(t *testing.T) {
	assert.Equal(t, "x", subjectString(intoto.Subject{Name: "docker.io/library/x"}))
	assert.Equal(t, "myorg/app:1.0", subjectString(intoto.Subject{Name: "pkg:docker/myorg/app@1.0?platform=linux%2Farm64"}))
	assert.Equal(t, "alpine", subjectString(intoto.Subject{Name: "pkg:docker/library/alpine"}))
	assert.Equal(t, "pkg:npm/left-pad@1.0.0", subjectString(intoto.Subject{Name: "pkg:npm/left-pad@1.0.0"}))
	assert.Equal(t, "x@md5:1", subjectString(intoto.Subject{Name: "x", Digest: map[string]string{"sha1": "2", "md5": "1"}}))
}
