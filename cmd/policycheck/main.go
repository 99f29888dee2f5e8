package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/artifact-policy-check/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if !errors.Is(err, cli.ErrViolationsFound) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
