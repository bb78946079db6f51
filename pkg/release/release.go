// Package release parses and formats service release coordinates.
package release

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "release:release"

var (
	groupRegex    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	artifactRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
)

// ID identifies a deployed service release.
type ID struct {
	// Group namespace (e.g., "com.example.cds")
	Group string
	// Artifact name (e.g., "bmi-service")
	Artifact string
	// Version as written (e.g., "1.2.0-SNAPSHOT")
	Version string

	semver *masterminds.Version
}

// Parse parses a group:artifact:version string.
//
// The version must be a SemVer version; loose forms such as "1.2" are accepted.
func Parse(input string) (ID, error) {
	raw := strings.TrimSpace(input)
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%s - invalid release %q, expected group:artifact:version", logPrefix, raw)
	}

	group, artifact, version := parts[0], parts[1], parts[2]
	if !groupRegex.MatchString(group) {
		return ID{}, fmt.Errorf("%s - invalid group %q", logPrefix, group)
	}
	if !artifactRegex.MatchString(artifact) {
		return ID{}, fmt.Errorf("%s - invalid artifact %q", logPrefix, artifact)
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return ID{}, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}

	return ID{Group: group, Artifact: artifact, Version: version, semver: v}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string) ID {
	id, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns group:artifact:version.
func (id ID) String() string {
	return id.Group + ":" + id.Artifact + ":" + id.Version
}

// Major returns the major version, or 0 for an unparsed ID.
func (id ID) Major() uint64 {
	if id.semver == nil {
		return 0
	}
	return id.semver.Major()
}

// IsSnapshot reports whether the version carries a SNAPSHOT prerelease.
func (id ID) IsSnapshot() bool {
	return id.semver != nil && strings.EqualFold(id.semver.Prerelease(), "SNAPSHOT")
}

// Satisfies reports whether the version falls in the SemVer constraint.
func (id ID) Satisfies(constraint string) (bool, error) {
	if id.semver == nil {
		return false, fmt.Errorf("%s - release %s has no parsed version", logPrefix, id)
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	return c.Check(id.semver), nil
}
