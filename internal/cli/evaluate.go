package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/docker/artifact-policy-check/pkg/evaluation"
	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/docker/artifact-policy-check/pkg/policy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func newEvaluateCmd() *cobra.Command {
	var (
		provenancePath string
		policyPath     string
		vars           []string
		output         string
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a policy against a provenance document",
		Long:  "Evaluate a Rego policy against a provenance document (JSON or YAML) and print the result. Exits 1 when violations are found.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q", output)
			}
			req, err := loadRequest(provenancePath, policyPath, vars)
			if err != nil {
				return err
			}

			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			log.SetLevel(logrus.WarnLevel)
			if debug {
				log.SetLevel(logrus.DebugLevel)
			}
			orch, err := evaluation.NewOrchestrator(policy.NewRegoEvaluator(debug), &evaluation.Options{Log: log})
			if err != nil {
				return err
			}
			outcome, err := orch.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(outcome.Result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal result: %w", err)
			}
			if output == "yaml" {
				if data, err = yaml.JSONToYAML(data); err != nil {
					return fmt.Errorf("failed to convert result to yaml: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n"))

			if len(outcome.Result.Violations) > 0 {
				return ErrViolationsFound
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provenancePath, "provenance", "", "Path to the provenance document (JSON or YAML)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the Rego policy")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Policy variable as key=value, may be repeated")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json or yaml")
	cmd.Flags().BoolVar(&debug, "debug", false, "Dump the Rego evaluation and log at debug level")
	_ = cmd.MarkFlagRequired("provenance")
	_ = cmd.MarkFlagRequired("policy")

	return cmd
}

func loadRequest(provenancePath, policyPath string, vars []string) (*evaluation.Request, error) {
	provenance, err := os.ReadFile(provenancePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read provenance %s: %w", provenancePath, err)
	}
	provenance, err = yaml.YAMLToJSON(provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provenance %s: %w", provenancePath, err)
	}
	policyData, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", policyPath, err)
	}

	variables := pipeline.NewVariables()
	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", kv)
		}
		variables.Set(key, value)
	}
	return &evaluation.Request{
		ImageProvenance: provenance,
		PolicyData:      string(policyData),
		Variables:       variables,
	}, nil
}
