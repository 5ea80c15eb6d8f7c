package sipengine

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// Identity holds a derived peer display name and number, following the
// fallback chain: prefer Remote-Party-ID, fall back to the quoted display
// name inside From/To, then to the bare URI user part.
type Identity struct {
	DisplayName string
	Number      string
}

// deriveFromURI extracts the URI's user part ("number"), used for both
// From and To headers.
func deriveFromURI(headerValue string) string {
	uri, display := splitNameAddr(headerValue)
	var parsed sip.Uri
	if err := sip.ParseUri(uri, &parsed); err != nil {
		return ""
	}
	if display == "" {
		display = parsed.User
	}
	return parsed.User
}

// splitNameAddr splits a header value of the form `"Display Name" <sip:uri>;params`
// into the bare uri and an unquoted display name. If there is no <...> wrapper,
// the whole value is treated as the uri and there is no display name.
func splitNameAddr(headerValue string) (uri string, display string) {
	v := strings.TrimSpace(headerValue)

	if i := strings.Index(v, "<"); i >= 0 {
		display = strings.TrimSpace(v[:i])
		display = strings.Trim(display, `"`)
		rest := v[i+1:]
		if j := strings.Index(rest, ">"); j >= 0 {
			uri = rest[:j]
			return uri, display
		}
		return rest, display
	}

	// No angle brackets: strip header parameters (everything after the first ';')
	// that are not part of the URI itself (best-effort for CUCM's compact style).
	if semi := strings.Index(v, ";"); semi >= 0 {
		return v[:semi], ""
	}
	return v, ""
}

// ParseRemoteIdentity implements the peer identity derivation rule:
// prefer Remote-Party-ID (quoted string = display name, x-cisco-number=
// parameter = canonical number), fall back to the quoted display inside
// From/To, then to the URI user part.
func ParseRemoteIdentity(remotePartyID, fromOrTo string) Identity {
	if remotePartyID != "" {
		uri, display := splitNameAddr(remotePartyID)
		number := ""
		var parsed sip.Uri
		if err := sip.ParseUri(uri, &parsed); err == nil {
			number = parsed.User
		}
		if n := paramValue(remotePartyID, "x-cisco-number"); n != "" {
			number = n
		}
		if display == "" {
			display = number
		}
		return Identity{DisplayName: display, Number: number}
	}

	uri, display := splitNameAddr(fromOrTo)
	var parsed sip.Uri
	number := ""
	if err := sip.ParseUri(uri, &parsed); err == nil {
		number = parsed.User
	}
	if display == "" {
		display = number
	}
	return Identity{DisplayName: display, Number: number}
}

// paramValue extracts `key=value` from a semicolon-separated parameter list
// in a header value.
func paramValue(headerValue, key string) string {
	parts := strings.Split(headerValue, ";")
	prefix := key + "="
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, prefix) {
			return strings.Trim(p[len(prefix):], `"`)
		}
	}
	return ""
}

// sessionIDParams splits a Session-ID header value of the form
// "<32-hex>;remote=<32-hex-or-zeroes>" into its components.
func sessionIDParams(headerValue string) (local string, remote string) {
	parts := strings.Split(headerValue, ";")
	if len(parts) == 0 {
		return "", ""
	}
	local = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "remote=") {
			remote = strings.TrimPrefix(p, "remote=")
		}
	}
	return local, remote
}

// tagValue extracts the `tag=` parameter from a From/To header value.
func tagValue(headerValue string) string {
	return paramValue(headerValue, "tag")
}

// appendTag appends a `;tag=<tag>` parameter to a header value that does
// not already carry one.
func appendTag(headerValue, tag string) string {
	if tagValue(headerValue) != "" {
		return headerValue
	}
	return headerValue + ";tag=" + tag
}
