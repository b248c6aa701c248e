// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is one inbound /proxy call: the caller-supplied target URL and
// the inbound headers (filtered before anything leaves the process).
type ProxyRequest struct {
	Ctx    context.Context
	Target string
	Header http.Header
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// BoundPort is the loopback port the proxy listens on. It is fixed once the
// listener is bound and handed to consumers by value.
type BoundPort uint16
