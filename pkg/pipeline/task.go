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

package pipeline

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TaskContext identifies the pipeline job that requested an asynchronous evaluation.
// It addresses the timeline log of the job, the check run result endpoint and the
// telemetry endpoint of the account. It is never persisted.
type TaskContext struct {
	AccountURL       string
	AuthToken        string
	ProjectID        string
	HubName          string
	PlanID           string
	JobID            string
	TimelineID       string
	TaskInstanceID   string
	TaskInstanceName string
}

// Validate reports every missing field required to address the remote endpoints.
func (t *TaskContext) Validate() error {
	var errs []error
	required := []struct {
		name  string
		value string
	}{
		{"planUrl", t.AccountURL},
		{"authToken", t.AuthToken},
		{"projectId", t.ProjectID},
		{"hubName", t.HubName},
		{"planId", t.PlanID},
		{"jobId", t.JobID},
		{"timelineId", t.TimelineID},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			errs = append(errs, fmt.Errorf("missing %s", field.name))
		}
	}
	return errors.Join(errs...)
}

// BaseURL returns the account URL without a trailing slash.
func (t *TaskContext) BaseURL() string {
	return strings.TrimRight(t.AccountURL, "/")
}

// SetBasicAuth sets the basic authorization header used by the pipeline APIs:
// an empty user name and the job access token as password.
func (t *TaskContext) SetBasicAuth(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+BasicAuth(t.AuthToken))
}

func BasicAuth(token string) string {
	return base64.StdEncoding.EncodeToString([]byte(":" + token))
}
