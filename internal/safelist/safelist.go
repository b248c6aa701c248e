// Package safelist holds the fixed header sets allowed to cross the proxy.
package safelist

import "net/http"

// Headers is a set of header names, stored in canonical form.
type Headers map[string]struct{}

// RequestHeaders may be forwarded from the caller to the upstream.
var RequestHeaders = New("Range", "User-Agent", "Accept")

// ResponseHeaders may be relayed from the upstream back to the caller.
var ResponseHeaders = New("Content-Type", "Content-Length", "Content-Range", "Accept-Ranges")

// New builds a Headers set from the given names.
func New(names ...string) Headers {
	h := make(Headers, len(names))
	for _, n := range names {
		h[http.CanonicalHeaderKey(n)] = struct{}{}
	}
	return h
}

// Contains reports whether name is in the set, ignoring case.
func (h Headers) Contains(name string) bool {
	_, ok := h[http.CanonicalHeaderKey(name)]
	return ok
}

// Filter returns a new header holding only the members of h found in src.
// Values are copied verbatim; src is left untouched.
func (h Headers) Filter(src http.Header) http.Header {
	dst := make(http.Header, len(h))
	for key, vals := range src {
		if !h.Contains(key) || len(vals) == 0 {
			continue
		}
		k := http.CanonicalHeaderKey(key)
		dst[k] = append(dst[k], vals...)
	}
	return dst
}
