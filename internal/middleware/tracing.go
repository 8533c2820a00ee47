package middleware

import (
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Pattern to normalize paths with account addresses
	accountPattern = regexp.MustCompile(`/account/[^/]+`)
)

// Context keys handlers set so the request span names the transaction
const (
	TransactionIDKey = "ledger.transaction_id"
	FailureKindKey   = "ledger.failure_kind"
)

// normalizePath converts high-cardinality paths to low-cardinality patterns
func normalizePath(path string) string {
	return accountPattern.ReplaceAllString(path, "/account/{address}")
}

func routeOf(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return normalizePath(path)
}

// Tracing middleware adds OpenTelemetry tracing to requests
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		if telemetry.Tracer == nil {
			c.Next()
			return
		}

		route := routeOf(c)
		ctx, span := telemetry.Tracer.Start(c.Request.Context(), "HTTP "+c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", c.Request.URL.Path),
				attribute.String("http.host", c.Request.Host),
				attribute.String("http.user_agent", c.Request.UserAgent()),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		statusCode := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.Float64("http.duration_ms", float64(duration.Milliseconds())),
		)
		transactionAttributes(c, span)
		if statusCode >= 500 {
			span.SetStatus(codes.Error, "HTTP error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// transactionAttributes copies what the transfer handlers recorded onto the span
func transactionAttributes(c *gin.Context, span trace.Span) {
	if id := c.GetString(TransactionIDKey); id != "" {
		span.SetAttributes(attribute.String(TransactionIDKey, id))
	}
	if kind := c.GetString(FailureKindKey); kind != "" {
		span.SetAttributes(attribute.String(FailureKindKey, kind))
		span.AddEvent("transaction not applied", trace.WithAttributes(attribute.String("kind", kind)))
	}
}
