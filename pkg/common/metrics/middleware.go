package metrics

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// unmatchedRoute labels requests that hit no registered route, so unknown
// paths do not create new label values.
const unmatchedRoute = "unmatched"

// HTTPMetricsMiddleware creates a Gin middleware for collecting HTTP metrics
func HTTPMetricsMiddleware(collector *MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}

		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		collector.RecordHTTPRequest(
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			requestSize,
			int64(c.Writer.Size()),
		)
	}
}

// UnaryServerInterceptor records gRPC request metrics
func UnaryServerInterceptor(collector *MetricsCollector) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		collector.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}
