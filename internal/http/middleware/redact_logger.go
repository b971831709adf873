// Package middleware contains shared Gin middleware used by the dashboard API.
//
// AccessLog writes one structured line per request. Request and response
// bodies are never logged, so message texts stay out of the logs; query
// strings and header values are scrubbed of emails, phone numbers and wallet
// addresses, and credential headers are masked entirely.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions adds header names whose values are replaced by [REDACTED].
// Authorization, Cookie and Set-Cookie are always masked.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	walletRE = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	emailRE  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)

	// Digits only, so hex wallet fragments are not taken for phone numbers.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redact scrubs s. Wallets go first: the phone pattern is the loosest.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = walletRE.ReplaceAllString(s, "[REDACTED:wallet]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// AccessLog installs a request-scoped logger (request id, operator, route)
// for LoggerFrom and logs the outcome: info, warn for 4xx, error for 5xx or
// when handlers attached errors.
func AccessLog(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}

		l := log.With().
			Str("request_id", asString(c.Value(requestIDKey))).
			Str("operator", strings.TrimSpace(c.GetHeader(HeaderOperatorID))).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		}
		ev.
			Str("query", truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
