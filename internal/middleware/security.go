package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// LoopbackHost returns an Echo middleware that rejects requests whose Host
// header does not name the loopback interface. The proxy is plaintext and
// unauthenticated, so a page that rebinds its own DNS name to 127.0.0.1 must
// not be able to drive it. Rejections keep the permissive CORS header so the
// UI can read the status.
func LoopbackHost() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Frame-Options", "DENY")

			if !isLoopbackHost(c.Request().Host) {
				c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
				return c.NoContent(http.StatusForbidden)
			}
			return next(c)
		}
	}
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
