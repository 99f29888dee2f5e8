package cli

import (
	"fmt"

	"github.com/docker/artifact-policy-check/internal/useragent"
	"github.com/docker/artifact-policy-check/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := version.Get()
			if err != nil {
				return fmt.Errorf("failed to read version: %w", err)
			}
			s := "unknown"
			if v != nil {
				s = v.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policycheck %s\nuser agent: %s\n", s, useragent.Get(cmd.Context()))
			return nil
		},
	}
}
