// Package protocol defines the line-delimited JSON envelopes exchanged between
// the CLI and the index daemon, and the rules for version compatibility.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version spoken by this build.
const Version = "1.0"

// Version errors.
var (
	ErrInvalidVersion     = errors.New("invalid protocol version")
	ErrVersionMismatch    = errors.New("protocol version mismatch")
	ErrVersionUnsupported = errors.New("protocol version unsupported")
)

// ParsedVersion is a major.minor protocol version.
type ParsedVersion struct {
	Major int
	Minor int
}

func (v ParsedVersion) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// ParseVersion accepts exactly two dot-separated non-negative decimal integers.
func ParseVersion(s string) (ParsedVersion, error) {
	majorText, minorText, ok := strings.Cut(s, ".")
	if !ok {
		return ParsedVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	major, majorOK := parseComponent(majorText)
	minor, minorOK := parseComponent(minorText)

	if !majorOK || !minorOK {
		return ParsedVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	return ParsedVersion{Major: major, Minor: minor}, nil
}

// parseComponent rejects signs, spaces and empty strings, which Atoi alone
// would partly accept.
func parseComponent(s string) (int, bool) {
	if s == "" {
		return 0, false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return n, true
}

// ValidateCompatibility reports whether a client speaking clientVersion may
// talk to a daemon speaking daemonVersion. Majors must match, and the client
// minor may not exceed the daemon minor.
func ValidateCompatibility(clientVersion, daemonVersion string) error {
	client, err := ParseVersion(clientVersion)
	if err != nil {
		return err
	}

	daemon, err := ParseVersion(daemonVersion)
	if err != nil {
		return err
	}

	if client.Major != daemon.Major {
		return fmt.Errorf("%w: client %s, daemon %s", ErrVersionMismatch, client, daemon)
	}

	if client.Minor > daemon.Minor {
		return fmt.Errorf("%w: client %s, daemon %s", ErrVersionUnsupported, client, daemon)
	}

	return nil
}
