package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/brandguard/backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// AttachTraceContext stamps every request with a trace id and request id so
// an audit submission can be correlated with the runner's log lines. Caller
// supplied headers win; otherwise the active span's trace id is reused and a
// fresh request id is minted.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		td := ctxutil.TraceData{
			TraceID:   headerOrEmpty(c, headerTraceID),
			RequestID: headerOrEmpty(c, headerRequestID),
		}
		if td.TraceID == "" {
			if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.HasTraceID() {
				td.TraceID = spanCtx.TraceID().String()
			} else {
				td.TraceID = uuid.New().String()
			}
		}
		if td.RequestID == "" {
			td.RequestID = uuid.New().String()
		}

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), &td))
		c.Set("trace_id", td.TraceID)
		c.Set("request_id", td.RequestID)
		c.Writer.Header().Set(headerTraceID, td.TraceID)
		c.Writer.Header().Set(headerRequestID, td.RequestID)
		c.Next()
	}
}

func headerOrEmpty(c *gin.Context, name string) string {
	return strings.TrimSpace(c.GetHeader(name))
}
