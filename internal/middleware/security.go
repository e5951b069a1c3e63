package middleware

import "github.com/gin-gonic/gin"

// DefaultContentSecurityPolicy forbids everything; the API serves JSON only.
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders applies response headers that harden the JSON API.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", DefaultContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
