package middleware

import "net/url"

// targetHost returns the host of a proxied URL, or "" when there is none.
func targetHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Host
}
