package proxyurl

import (
	"net/url"
	"testing"

	"media-proxy-go/internal/model"
)

func TestEndpoint(t *testing.T) {
	if got := Endpoint(49152); got != "http://127.0.0.1:49152/proxy" {
		t.Errorf("Endpoint(49152) = %q", got)
	}
}

func TestFor(t *testing.T) {
	tests := []struct {
		name   string
		port   model.BoundPort
		target string
		want   string
	}{
		{
			name:   "wraps remote url",
			port:   8123,
			target: "https://cdn.example.com/live/index.m3u8?token=a&b=c",
			want:   "http://127.0.0.1:8123/proxy?url=" + url.QueryEscape("https://cdn.example.com/live/index.m3u8?token=a&b=c"),
		},
		{
			name:   "empty target",
			port:   8123,
			target: "",
			want:   "",
		},
		{
			name:   "no port",
			port:   0,
			target: "https://cdn.example.com/a.mp4",
			want:   "https://cdn.example.com/a.mp4",
		},
		{
			name:   "already proxied via localhost",
			port:   8123,
			target: "http://localhost:8123/proxy?url=https%3A%2F%2Fcdn.example.com%2Fa.mp4",
			want:   "http://localhost:8123/proxy?url=https%3A%2F%2Fcdn.example.com%2Fa.mp4",
		},
		{
			name:   "already proxied via loopback ip",
			port:   8123,
			target: "http://127.0.0.1:9000/proxy?url=x",
			want:   "http://127.0.0.1:9000/proxy?url=x",
		},
		{
			name:   "remote host with proxy path is wrapped",
			port:   8123,
			target: "http://example.com/proxy?url=x",
			want:   "http://127.0.0.1:8123/proxy?url=" + url.QueryEscape("http://example.com/proxy?url=x"),
		},
		{
			name:   "loopback without url param is wrapped",
			port:   8123,
			target: "http://localhost:3000/proxy",
			want:   "http://127.0.0.1:8123/proxy?url=" + url.QueryEscape("http://localhost:3000/proxy"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := For(tt.port, tt.target); got != tt.want {
				t.Errorf("For(%d, %q) = %q, want %q", tt.port, tt.target, got, tt.want)
			}
		})
	}
}

func TestFor_RoundTrip(t *testing.T) {
	target := "https://cdn.example.com/vod/movie.mp4?sig=a+b/c=="
	u, err := url.Parse(For(4000, target))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := u.Query().Get("url"); got != target {
		t.Errorf("url param = %q, want %q", got, target)
	}
}
