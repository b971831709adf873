package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func serveOperator(t *testing.T, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Operator())
	var seen string
	r.GET("/who", func(c *gin.Context) {
		seen = OperatorFrom(c)
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if header != "" {
		req.Header.Set(HeaderOperatorID, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestOperator(t *testing.T) {
	cases := []struct {
		header string
		status int
		want   string
	}{
		{"", http.StatusNoContent, "operator"},
		{"  alice  ", http.StatusNoContent, "alice"},
		{"ops.team@desk", http.StatusNoContent, "ops.team@desk"},
		{"bad name", http.StatusBadRequest, ""},
		{strings.Repeat("x", 49), http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		w, seen := serveOperator(t, tc.header)
		if w.Code != tc.status || seen != tc.want {
			t.Fatalf("header %q -> %d %q; want %d %q", tc.header, w.Code, seen, tc.status, tc.want)
		}
	}
}

func TestOperatorFrom_Fallback(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := OperatorFrom(c); got != "operator" {
		t.Fatalf("fallback = %q", got)
	}
	c.Set(ctxKeyOperator, 7)
	if got := OperatorFrom(c); got != "operator" {
		t.Fatalf("wrong type fallback = %q", got)
	}
}
