package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"status=open", "status=open"},
		{"mail=a.b@example.com", "mail=[REDACTED:email]"},
		{"call 555-123-4567", "call [REDACTED:phone]"},
		{"w=0x52908400098527886E0F7030069857D2E4169EE7", "w=[REDACTED:wallet]"},
	}
	for _, tc := range cases {
		if got := redact(tc.in); got != tc.want {
			t.Fatalf("redact(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestAccessLog(t *testing.T) {
	buf := captureLogs(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AccessLog(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/tickets/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside handler")
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found"})
	})

	req := httptest.NewRequest(http.MethodGet, "/tickets/9?email=x@example.com", nil)
	req.Header.Set(requestIDHeader, "rid-9")
	req.Header.Set(HeaderOperatorID, "alice")
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("want handler line and access line, got %v", lines)
	}
	inner, access := lines[0], lines[1]
	if inner["request_id"] != "rid-9" || inner["operator"] != "alice" || inner["path"] != "/tickets/:id" {
		t.Fatalf("handler logger not request-scoped: %v", inner)
	}
	if access["message"] != "http_request" || access["level"] != "warn" || access["status"] != float64(404) {
		t.Fatalf("access line = %v", access)
	}
	if access["query"] != "email=[REDACTED:email]" {
		t.Fatalf("query not redacted: %v", access["query"])
	}
	headers, _ := access["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", headers)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("credential leaked: %s", buf.String())
	}
}

func TestAccessLog_ErrorLevel(t *testing.T) {
	buf := captureLogs(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AccessLog(RedactOptions{}))
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["level"] != "error" {
		t.Fatalf("lines = %v", lines)
	}
}
