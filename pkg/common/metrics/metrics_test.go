package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRecordCompile(t *testing.T) {
	m := NewMetricsCollector("test", prometheus.NewRegistry())

	m.RecordCompile("items", StatusOK, time.Millisecond, 4)
	m.RecordCompile("items", StatusError, time.Millisecond, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompileTotal.WithLabelValues("items", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompileTotal.WithLabelValues("items", StatusError)))
}

func TestRecordExecution(t *testing.T) {
	m := NewMetricsCollector("test", prometheus.NewRegistry())

	m.RecordExecution("items", "facet", StatusOK, time.Millisecond, 3)
	m.RecordExecution("items", "facet", StatusOK, time.Millisecond, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EngineExecutions.WithLabelValues("items", "facet", StatusOK)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DocumentsReturned.WithLabelValues("items")))
}

func TestCacheCounters(t *testing.T) {
	m := NewMetricsCollector("test", prometheus.NewRegistry())
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipelineCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineCacheMiss))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetricsCollector("test", prometheus.NewRegistry())

	router := gin.New()
	router.Use(HTTPMetricsMiddleware(m))
	router.GET("/collections/:collection", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/collections/items", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/collections/:collection", "2xx")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(502))
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := NewMetricsCollector("test", prometheus.NewRegistry())
	interceptor := UnaryServerInterceptor(m)

	info := &grpc.UnaryServerInfo{FullMethod: "/pipewright.v1.Compiler/Compile"}
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	_, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "bad")
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues(info.FullMethod, "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues(info.FullMethod, "InvalidArgument")))
}
