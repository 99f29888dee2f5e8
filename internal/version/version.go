package version

import (
	"fmt"
	"runtime/debug"

	"github.com/Masterminds/semver/v3"
)

const ThisModulePath = "github.com/docker/artifact-policy-check"

// Get returns the version of the policy check module.
// this can return nil if the version can't be determined (without an error).
func Get() (*semver.Version, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, nil
	}
	return fromBuildInfo(bi)
}

func fromBuildInfo(bi *debug.BuildInfo) (*semver.Version, error) {
	var mod *debug.Module
	if bi.Main.Path == ThisModulePath {
		mod = &bi.Main
	} else {
		for _, dep := range bi.Deps {
			if dep.Path == ThisModulePath {
				mod = dep
				break
			}
		}
	}
	// "(devel)" is reported for binaries built from a checkout
	if mod == nil || mod.Version == "" || mod.Version == "(devel)" {
		return nil, nil
	}

	v, err := semver.NewVersion(mod.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version %s: %w", mod.Version, err)
	}
	return v, nil
}
