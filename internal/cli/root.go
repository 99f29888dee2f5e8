package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// ErrViolationsFound is returned by evaluate when the policy reported violations.
var ErrViolationsFound = errors.New("policy violations found")

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "policycheck",
		Short:         "Evaluate artifact provenance against Rego policies",
		Long:          "policycheck evaluates a Rego policy against an artifact's provenance, either inline or in the background with the verdict posted to a pipeline check suite.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newEvaluateCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

func Execute() error {
	return newRootCmd().Execute()
}
