package checks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func StatusFor(succeeded bool) Status {
	if succeeded {
		return StatusApproved
	}
	return StatusRejected
}

const truncationMarker = "\n... (truncated)"

// CheckSuiteResult is the result of one check suite as posted to the check runs API.
// It is keyed by the check suite id on the wire:
//
//	{"<checkSuiteId>": {"status": "approved", "resultMessage": "..."}}
type CheckSuiteResult struct {
	CheckSuiteID  uuid.UUID
	Status        Status
	ResultMessage string
}

type checkRunResult struct {
	Status        Status `json:"status"`
	ResultMessage string `json:"resultMessage"`
}

// NewCheckSuiteResult builds the result, cutting message down to maxMessageBytes when
// maxMessageBytes is positive.
func NewCheckSuiteResult(checkSuiteID uuid.UUID, succeeded bool, message string, maxMessageBytes int) CheckSuiteResult {
	return CheckSuiteResult{
		CheckSuiteID:  checkSuiteID,
		Status:        StatusFor(succeeded),
		ResultMessage: truncate(message, maxMessageBytes),
	}
}

func (r CheckSuiteResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]checkRunResult{
		r.CheckSuiteID.String(): {Status: r.Status, ResultMessage: r.ResultMessage},
	})
}

func (r *CheckSuiteResult) UnmarshalJSON(data []byte) error {
	var wire map[string]checkRunResult
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire) != 1 {
		return fmt.Errorf("expected exactly one check suite result, got %d", len(wire))
	}
	for key, value := range wire {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("invalid check suite id %q: %w", key, err)
		}
		*r = CheckSuiteResult{CheckSuiteID: id, Status: value.Status, ResultMessage: value.ResultMessage}
	}
	return nil
}

func truncate(message string, maxBytes int) string {
	if maxBytes <= 0 || len(message) <= maxBytes {
		return message
	}
	cut := maxBytes - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	// don't split a multi-byte rune
	for cut > 0 && cut < len(message) && !isRuneStart(message[cut]) {
		cut--
	}
	return message[:cut] + truncationMarker
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
