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

package policy

import (
	"encoding/json"
	"fmt"
)

type ViolationType string

const (
	ViolationTypeNone              ViolationType = "None"
	ViolationTypePolicy            ViolationType = "PolicyViolation"
	ViolationTypeMissingProvenance ViolationType = "MissingProvenance"
	ViolationTypeInvalidProvenance ViolationType = "InvalidProvenance"
)

func ParseViolationType(s string) (ViolationType, error) {
	switch t := ViolationType(s); t {
	case ViolationTypeNone, ViolationTypePolicy, ViolationTypeMissingProvenance, ViolationTypeInvalidProvenance:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported violation type: %q", s)
	}
}

// Violation is a single finding produced by a policy. Policies may emit either an
// object or a plain string, which becomes the description.
type Violation struct {
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

func (v *Violation) UnmarshalJSON(data []byte) error {
	var description string
	if err := json.Unmarshal(data, &description); err == nil {
		*v = Violation{Description: description}
		return nil
	}
	type violation Violation
	var out violation
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*v = Violation(out)
	return nil
}

type Result struct {
	Violations    []Violation   `json:"violations"`
	ViolationType ViolationType `json:"violationType"`
	// Output is the log rendered while evaluating the policy.
	Output string `json:"-"`
}

func (r *Result) Succeeded() bool {
	return len(r.Violations) == 0
}

type Input struct {
	Provenance json.RawMessage
	Policy     string
	Variables  map[string]string
}
