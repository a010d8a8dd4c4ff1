package deploy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const latestTag = "latest"

// Version is a resolved image tag
type Version struct {
	Tag string
	// Release is true for semver tags without a prerelease part; those are
	// also pushed as "latest".
	Release bool
}

// ResolveVersion accepts "", "latest" or a semantic version with an optional
// leading "v". The tag keeps the spelling given.
func ResolveVersion(arg string) (Version, error) {
	if arg == "" || arg == latestTag {
		return Version{Tag: latestTag}, nil
	}
	v, err := semver.NewVersion(arg)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: expected \"latest\" or a semantic version such as v1.2.3", arg)
	}
	return Version{Tag: arg, Release: v.Prerelease() == ""}, nil
}
