package policy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/distribution/reference"
	intoto "github.com/in-toto/in-toto-golang/in_toto"
	"github.com/package-url/packageurl-go"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"
)

// UnwrapProvenance returns the statement carried by a DSSE envelope, or the provenance
// unchanged when it is not an envelope. Envelope signatures are not verified here.
func UnwrapProvenance(raw json.RawMessage) (json.RawMessage, error) {
	env := new(dsse.Envelope)
	if err := json.Unmarshal(raw, env); err != nil || env.PayloadType == "" || env.Payload == "" {
		return raw, nil
	}
	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope payload: %w", err)
	}
	return payload, nil
}

type ProvenanceSummary struct {
	StatementType string
	PredicateType string
	Subjects      []string
}

func (s *ProvenanceSummary) String() string {
	return fmt.Sprintf("predicate type %s, subjects [%s]", s.PredicateType, strings.Join(s.Subjects, ", "))
}

// SummarizeProvenance describes an in-toto statement (optionally wrapped in a DSSE envelope).
func SummarizeProvenance(raw json.RawMessage) (*ProvenanceSummary, error) {
	payload, err := UnwrapProvenance(raw)
	if err != nil {
		return nil, err
	}
	statement := new(intoto.Statement)
	err = json.Unmarshal(payload, statement)
	if err != nil {
		return nil, fmt.Errorf("provenance is not an in-toto statement: %w", err)
	}
	if statement.Type == "" {
		return nil, fmt.Errorf("provenance is not an in-toto statement: missing _type")
	}
	summary := &ProvenanceSummary{
		StatementType: statement.Type,
		PredicateType: statement.PredicateType,
	}
	for _, subject := range statement.Subject {
		summary.Subjects = append(summary.Subjects, subjectString(subject))
	}
	return summary, nil
}

func subjectString(subject intoto.Subject) string {
	name := familiarName(subject.Name)
	if len(subject.Digest) == 0 {
		return name
	}
	if d, ok := subject.Digest["sha256"]; ok {
		return name + "@sha256:" + d
	}
	algs := make([]string, 0, len(subject.Digest))
	for alg := range subject.Digest {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return name + "@" + algs[0] + ":" + subject.Digest[algs[0]]
}

// familiarName shortens image names, including docker purls, to their familiar form
// (docker.io/library/alpine -> alpine). Other names are returned unchanged.
func familiarName(name string) string {
	candidate := name
	if purl, err := packageurl.FromString(name); err == nil && purl.Type == packageurl.TypeDocker {
		candidate = purl.Name
		if purl.Namespace != "" {
			candidate = purl.Namespace + "/" + purl.Name
		}
		if purl.Version != "" {
			candidate += ":" + purl.Version
		}
	}
	named, err := reference.ParseNormalizedNamed(candidate)
	if err != nil {
		return name
	}
	return reference.FamiliarString(named)
}
