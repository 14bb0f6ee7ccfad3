// Package origin derives the browser origins the HTTP API should accept.
package origin

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var DefaultOrigin = "http://localhost:8080"

// BuildAllowedOrigins returns the CORS allow list. An explicit publicOrigin
// (comma or whitespace separated) wins outright; otherwise the list is
// derived from the listen address plus the localhost defaults.
func BuildAllowedOrigins(listenAddr, publicOrigin string) []string {
	origins := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	add := func(origin string) {
		if origin == "" {
			return
		}
		if _, dup := seen[origin]; dup {
			return
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}

	var explicit bool
	for _, raw := range splitOrigins(publicOrigin) {
		if normalized := normalizeOrigin(raw); normalized != "" {
			add(normalized)
			explicit = true
		}
	}
	if explicit {
		return origins
	}

	add(DefaultOrigin)
	for _, raw := range originsFromListen(listenAddr) {
		add(normalizeOrigin(raw))
	}
	if len(origins) == 0 {
		add(DefaultOrigin)
	}
	return origins
}

func splitOrigins(raw string) []string {
	return strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		}
		return false
	})
}

// normalizeOrigin lowercases scheme and host and rejects anything that is
// not a scheme://host[:port] origin.
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	origin := fmt.Sprintf("%s://%s", strings.ToLower(parsed.Scheme), strings.ToLower(parsed.Host))
	return strings.TrimSuffix(origin, "/")
}

// originsFromListen expands a listen address like ":8080" or
// "192.168.1.5:8080" into the origins a local browser would use.
func originsFromListen(listenAddr string) []string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return nil
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	} else if !strings.Contains(addr, ":") {
		addr += ":"
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return nil
	}

	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" && host != "0.0.0.0" && host != "::" {
		hosts = append(hosts, host)
	}

	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if strings.Contains(h, ":") && !strings.HasPrefix(h, "[") {
			h = "[" + h + "]"
		}
		out = append(out, fmt.Sprintf("http://%s:%s", h, port))
	}
	return out
}
