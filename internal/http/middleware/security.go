package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the headers set on every response.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days when not positive.
	HSTSMaxAge time.Duration
}

// SecurityHeaders hardens responses of this JSON API. The API is consumed
// by a mobile client and renders nothing, so framing, referrers and browser
// features are all denied.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		// Location, camera and microphone are used on the device, never through this API.
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=(), payment=()")
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// CachePolicy is the Cache-Control posture of a route. Every response
// carries one user's health data, so nothing is ever publicly cacheable.
type CachePolicy int

const (
	// CacheRevalidate lets the client keep a private copy that it must
	// revalidate (If-None-Match) before each use. Read endpoints.
	CacheRevalidate CachePolicy = iota + 1
	// CacheNoStore forbids keeping the response at all. Submit endpoints.
	CacheNoStore
)

// CacheControl applies policy to the route's responses.
func CacheControl(policy CachePolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		switch policy {
		case CacheRevalidate:
			h.Set("Cache-Control", "private, no-cache")
		case CacheNoStore:
			h.Set("Cache-Control", "private, no-store")
			h.Set("Pragma", "no-cache")
		}
		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or via a
// proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
