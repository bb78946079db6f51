package fhir

import (
	"fmt"
	"strings"
	"time"
)

// ClientConfig configures the HTTP clients created for a FHIR version.
type ClientConfig struct {
	Timeout     time.Duration
	Accept      string
	MaxIdleConn int
}

// Version is a supported FHIR release. The set is closed: use R4.
type Version struct {
	name   string
	config ClientConfig
}

// R4 is FHIR release 4.
var R4 = Version{
	name: "R4",
	config: ClientConfig{
		Timeout:     30 * time.Second,
		Accept:      "application/fhir+json; fhirVersion=4.0",
		MaxIdleConn: 20,
	},
}

var versions = []Version{R4}

// Name returns the release name, e.g. "R4".
func (v Version) Name() string { return v.name }

// ClientConfig returns the client configuration of the release.
func (v Version) ClientConfig() ClientConfig { return v.config }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.name == "" }

func (v Version) String() string { return v.name }

// ParseVersion resolves a release name such as "R4" or "FHIR4".
func ParseVersion(name string) (Version, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "FHIR")
	if !strings.HasPrefix(n, "R") {
		n = "R" + n
	}
	for _, v := range versions {
		if v.name == n {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("%s - unsupported FHIR version %q", logPrefix, name)
}
