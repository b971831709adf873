package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-desk/internal/domain"
)

// HeaderOperatorID names the dashboard operator issuing the request. It is
// an attribution label, not an authentication mechanism.
const HeaderOperatorID = "X-Operator-ID"

const ctxKeyOperator = "operator"

var operatorRE = regexp.MustCompile(`^[A-Za-z0-9._@\-]{1,48}$`)

// Operator reads X-Operator-ID into the context. A missing header means the
// anonymous "operator"; a malformed one is rejected with 400.
func Operator() gin.HandlerFunc {
	return func(c *gin.Context) {
		op := strings.TrimSpace(c.GetHeader(HeaderOperatorID))
		if op == "" {
			op = domain.OperatorSender
		} else if !operatorRE.MatchString(op) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "invalid " + HeaderOperatorID,
			})
			return
		}
		c.Set(ctxKeyOperator, op)
		c.Next()
	}
}

// OperatorFrom returns the operator stored by Operator, or "operator".
func OperatorFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyOperator); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return domain.OperatorSender
}
