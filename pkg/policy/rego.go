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
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/open-policy-agent/opa/topdown"
	opa "github.com/open-policy-agent/opa/util"
)

type regoEvaluator struct {
	debug bool
}

const (
	policyModuleName = "policy.rego"
	resultBinding    = "result"
)

// document is the subset of the policy package document read after evaluation.
type document struct {
	Violations    []Violation `json:"violations"`
	ViolationType string      `json:"violation_type"`
}

// NewRegoEvaluator returns an Evaluator for policies written in Rego. The provenance
// is the policy input, the request variables are available as data.variables, and the
// rule document of the policy package is expected to define violations and, optionally,
// violation_type.
func NewRegoEvaluator(debug bool) Evaluator {
	return &regoEvaluator{
		debug: debug,
	}
}

func (re *regoEvaluator) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	if strings.TrimSpace(input.Policy) == "" {
		return nil, fmt.Errorf("policy is empty")
	}
	module, err := ast.ParseModule(policyModuleName, input.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy does not contain a rego module")
	}

	statement, err := UnwrapProvenance(input.Provenance)
	if err != nil {
		return nil, err
	}
	var provenance any
	err = opa.UnmarshalJSON(statement, &provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provenance: %w", err)
	}

	// Create a new in-memory store holding the request variables
	store := inmem.New()
	params := storage.TransactionParams{}
	params.Write = true
	txn, err := store.NewTransaction(ctx, params)
	if err != nil {
		return nil, err
	}
	variables := make(map[string]any, len(input.Variables))
	for k, v := range input.Variables {
		variables[k] = v
	}
	err = store.Write(ctx, txn, storage.AddOp, storage.Path{}, map[string]any{"variables": variables})
	if err != nil {
		store.Abort(ctx, txn)
		return nil, err
	}
	err = store.Commit(ctx, txn)
	if err != nil {
		store.Abort(ctx, txn)
		return nil, err
	}

	// per evaluation, so concurrent evaluations never share output
	output := new(bytes.Buffer)
	regoOpts := []func(*rego.Rego){
		rego.Query(fmt.Sprintf("%s := %s", resultBinding, module.Package.Path.String())),
		rego.ParsedModule(module),
		rego.Input(provenance),
		rego.Store(store),
		rego.EnablePrintStatements(true),
		rego.PrintHook(topdown.NewPrintHook(output)),
		rego.GenerateJSON(jsonGenerator[document]()),
	}
	if re.debug {
		regoOpts = append(regoOpts, rego.Dump(os.Stderr))
	}

	rs, err := rego.New(regoOpts...).Eval(ctx)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("no policy evaluation result")
	}
	binding, ok := rs[0].Bindings[resultBinding]
	if !ok {
		return nil, fmt.Errorf("failed to extract evaluation result")
	}
	doc, ok := binding.(document)
	if !ok {
		return nil, fmt.Errorf("failed to extract evaluation result")
	}
	return toResult(&doc, output)
}

func toResult(doc *document, output *bytes.Buffer) (*Result, error) {
	violations := doc.Violations
	if violations == nil {
		violations = []Violation{}
	}
	violationType := ViolationTypeNone
	if doc.ViolationType != "" {
		var err error
		violationType, err = ParseViolationType(doc.ViolationType)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case len(violations) == 0:
		violationType = ViolationTypeNone
	case violationType == ViolationTypeNone:
		violationType = ViolationTypePolicy
	}

	for _, v := range violations {
		if v.Type != "" {
			fmt.Fprintf(output, "Violation (%s): %s\n", v.Type, v.Description)
		} else {
			fmt.Fprintf(output, "Violation: %s\n", v.Description)
		}
	}
	return &Result{
		Violations:    violations,
		ViolationType: violationType,
		Output:        output.String(),
	}, nil
}

func jsonGenerator[T any]() func(t *ast.Term, ec *rego.EvalContext) (any, error) {
	return func(t *ast.Term, _ *rego.EvalContext) (any, error) {
		// round trip through JSON first: ast.As fails if the AST contains a set
		json, err := ast.JSON(t.Value)
		if err != nil {
			return nil, err
		}
		v, err := ast.InterfaceToValue(json)
		if err != nil {
			return nil, err
		}
		var result T
		err = ast.As(v, &result)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
