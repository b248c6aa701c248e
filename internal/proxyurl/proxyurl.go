// Package proxyurl builds /proxy URLs for a bound port, for consumers that
// hand resource URLs to the UI.
package proxyurl

import (
	"net"
	"net/url"
	"strconv"

	"media-proxy-go/internal/model"
)

// Endpoint returns the proxy route for port, e.g. http://127.0.0.1:49152/proxy.
func Endpoint(port model.BoundPort) string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))) + "/proxy"
}

// For rewrites target so it is fetched through the proxy on port.
// An empty target stays empty, port 0 (proxy unavailable) leaves target
// untouched, and a target that already points at a loopback /proxy route is
// returned as is so URLs are never wrapped twice.
func For(port model.BoundPort, target string) string {
	if target == "" || port == 0 || isProxied(target) {
		return target
	}
	return Endpoint(port) + "?url=" + url.QueryEscape(target)
}

func isProxied(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Path != "/proxy" || !u.Query().Has("url") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
