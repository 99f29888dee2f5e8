package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskContextValidate(t *testing.T) {
	complete := TaskContext{
		AccountURL: "https://dev.azure.com/org/",
		AuthToken:  "token",
		ProjectID:  "project",
		HubName:    "checks",
		PlanID:     "plan",
		JobID:      "job",
		TimelineID: "timeline",
	}
	require.NoError(t, complete.Validate())
	assert.Equal(t, "https://dev.azure.com/org", complete.BaseURL())

	incomplete := complete
	incomplete.PlanID = ""
	incomplete.JobID = " "
	err := incomplete.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing planId")
	assert.Contains(t, err.Error(), "missing jobId")
	assert.NotContains(t, err.Error(), "missing hubName")
}

func TestSetBasicAuth(t *testing.T) {
	task := &TaskContext{AuthToken: "secret"}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	task.SetBasicAuth(req)
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Empty(t, user)
	assert.Equal(t, "secret", pass)
}

func TestVariablesKeepOrder(t *testing.T) {
	vars := NewVariables()
	err := json.Unmarshal([]byte(`{"zeta":"1","alpha":"2","mid":"3"}`), vars)
	require.NoError(t, err)

	var keys []string
	for pair := vars.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys)

	copied := CopyVariables(vars)
	copied.Set("alpha", "changed")
	v, _ := vars.Get("alpha")
	assert.Equal(t, "2", v)
	assert.Equal(t, map[string]string{"zeta": "1", "alpha": "changed", "mid": "3"}, VariablesMap(copied))
	assert.Empty(t, VariablesMap(nil))
}

func TestUserAgentTransport(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := NewHTTPClient(0).Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, got, "policycheck/")
}
