// Package origin implements the browser Origin policy shared by the HTTP API
// and the watch WebSocket.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] plus the host[:port] part used for same-host checks.
// Default ports are dropped. The opaque origin "null" is returned unchanged
// with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides which Origins may call the hub. An empty allow-list means
// same host only; "*" allows any origin.
type Policy struct {
	allowed []string
}

func NewPolicy(allowedOrigins []string) Policy {
	return Policy{allowed: allowedOrigins}
}

// Wildcard reports whether the policy accepts any origin.
func (p Policy) Wildcard() bool {
	for _, a := range p.allowed {
		if a == "*" {
			return true
		}
	}
	return false
}

// Check validates originHeader against requestHost. It returns the normalized
// origin for CORS responses.
func (p Policy) Check(originHeader, requestHost string) (string, bool) {
	normalized, host, ok := NormalizeHeader(originHeader)
	if !ok {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, requestHost, p.allowed)
}

// IsAllowed applies the allow-list, or the same-host rule when it is empty.
// The scheme is not compared in same-host mode since TLS is often terminated
// in front of the hub.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, ok := strings.Cut(normalizedOrigin, "://")
	if !ok {
		return false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	return ok && reqHost == originHost
}

// canonicalHost lowercases the hostname, brackets IPv6 literals and drops the
// scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if rest, found := strings.CutPrefix(authority, "["); found {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest = rest[:end], rest[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
