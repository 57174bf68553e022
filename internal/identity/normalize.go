// Package identity normalizes the external identity of a lead (its profile URL)
// so that cosmetic variations from different sources compare equal.
package identity

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of a profile identifier:
//  1. Trimming whitespace and applying Unicode NFC
//  2. Lowercasing the scheme and host
//  3. Dropping query string and fragment
//  4. Stripping trailing slashes from the path
//
// Inputs that do not parse as an absolute URL are lowercased and have trailing
// slashes stripped.
func Normalize(raw string) string {
	s := norm.NFC.String(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(strings.ToLower(s), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	return u.String()
}

// Equal reports whether two identifiers refer to the same identity.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
