// Package api exposes the query compiler over REST and gRPC.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/pipewright/pipewright/pkg/common/metrics"
	"github.com/pipewright/pipewright/pkg/query/cache"
	"github.com/pipewright/pipewright/pkg/query/executor"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	// RequestIDHeader carries the request correlation ID
	RequestIDHeader = "X-Request-ID"
	// LangCookie selects the language when the query has no lang parameter
	LangCookie = "lang"

	requestIDKey = "request_id"
)

// Pinger is implemented by aggregation engines that can report their health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the REST and gRPC front ends
type Server struct {
	cfg         *config.ServerConfig
	logger      *zap.Logger
	ginRouter   *gin.Engine
	httpServer  *http.Server
	grpcServer  *grpc.Server
	service     *QueryService
	registry    *schema.Registry
	queryParser *parser.QueryParser
	metrics     *metrics.MetricsCollector
	pinger      Pinger
	pipelines   *cache.PipelineCache

	stopCleanup context.CancelFunc
	cleanupDone chan struct{}
}

// NewServer creates a server for the collections in registry, running
// queries on agg
func NewServer(cfg *config.ServerConfig, registry *schema.Registry, agg executor.Aggregator, collector *metrics.MetricsCollector, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil || registry == nil || agg == nil || collector == nil {
		return nil, fmt.Errorf("config, registry, aggregator and metrics are required")
	}

	gin.SetMode(gin.ReleaseMode)
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(requestID())
	ginRouter.Use(ginLogger(logger))
	ginRouter.Use(metrics.HTTPMetricsMiddleware(collector))

	pipelines := cache.NewPipelineCache(cfg.CacheSize, cfg.CacheMaxStages, cfg.CacheTTL, collector)
	exec := executor.NewExecutor(agg, logger, collector)
	service := NewQueryService(registry, cfg.Compiler, pipelines, exec, collector, logger)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector)))
	RegisterCompilerServer(grpcServer, NewCompilerService(service, logger))

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		ginRouter:   ginRouter,
		grpcServer:  grpcServer,
		service:     service,
		registry:    registry,
		queryParser: parser.NewQueryParser(),
		metrics:     collector,
		pipelines:   pipelines,
	}
	if p, ok := agg.(Pinger); ok {
		s.pinger = p
	}
	s.setupRoutes()

	return s, nil
}

// Handler returns the REST handler
func (s *Server) Handler() http.Handler {
	return s.ginRouter
}

// Start binds the REST and gRPC listeners and serves them in the
// background. It fails if either address cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting pipewright server",
		zap.String("node_id", s.cfg.NodeID),
		zap.Int("rest_port", s.cfg.RESTPort),
		zap.Int("grpc_port", s.cfg.GRPCPort),
		zap.Strings("collections", s.registry.Names()))

	restAddr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.RESTPort)
	restLis, err := net.Listen("tcp", restAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", restAddr, err)
	}
	grpcAddr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.GRPCPort)
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		restLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	go func() {
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	s.httpServer = &http.Server{
		Addr:              restLis.Addr().String(),
		Handler:           s.ginRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(restLis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.cfg.CacheCleanup > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		s.stopCleanup = cancel
		s.cleanupDone = make(chan struct{})
		go s.cleanupPipelineCache(cleanupCtx, s.cfg.CacheCleanup)
	}

	s.logger.Info("Pipewright server started",
		zap.String("rest_api", fmt.Sprintf("http://%s", s.httpServer.Addr)),
		zap.String("grpc_api", grpcLis.Addr().String()))
	return nil
}

// cleanupPipelineCache periodically drops expired pipelines until ctx is done
func (s *Server) cleanupPipelineCache(ctx context.Context, interval time.Duration) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.pipelines.CleanupExpired(); removed > 0 {
				s.logger.Debug("Dropped expired pipelines",
					zap.Int("removed", removed),
					zap.Int("cached", s.pipelines.Len()))
			}
		}
	}
}

// Stop shuts down both listeners
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping pipewright server")

	if s.stopCleanup != nil {
		s.stopCleanup()
		<-s.cleanupDone
		s.stopCleanup = nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	return nil
}

func (s *Server) setupRoutes() {
	s.ginRouter.GET("/collections", s.handleListCollections)
	s.ginRouter.GET("/collections/:collection", s.handleQuery)
	s.ginRouter.GET("/collections/:collection/_pipeline", s.handleExplain)
	s.ginRouter.GET("/collections/:collection/_count", s.handleCount)

	s.ginRouter.GET("/_cache", s.handleCacheStats)
	s.ginRouter.DELETE("/_cache", s.handleCacheInvalidate)

	s.ginRouter.GET("/health", s.handleHealth)
	s.ginRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// requestID propagates the caller's request ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// ginLogger creates a Gin middleware that logs requests using zap
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
