package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pipewright/pipewright/pkg/query/parser"
	"github.com/pipewright/pipewright/pkg/query/stage"
	"go.uber.org/zap"
)

func (s *Server) handleListCollections(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"collections": s.registry.Names()})
}

func (s *Server) handleQuery(ctx *gin.Context) {
	collection := ctx.Param("collection")
	req, lang, ok := s.parseRequest(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	result, err := s.service.Execute(reqCtx, collection, lang, req)
	if err != nil {
		s.respondError(ctx, collection, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (s *Server) handleExplain(ctx *gin.Context) {
	collection := ctx.Param("collection")
	req, lang, ok := s.parseRequest(ctx)
	if !ok {
		return
	}

	p, err := s.service.Compile(collection, lang, req)
	if err != nil {
		s.respondError(ctx, collection, err)
		return
	}

	pipeline, err := stage.MarshalJSON(p.Stages)
	if err != nil {
		s.respondError(ctx, collection, err)
		return
	}
	resp := gin.H{
		"collection": collection,
		"lang":       s.effectiveLang(collection, lang),
		"pipeline":   json.RawMessage(pipeline),
	}
	if p.CountStages != nil {
		count, err := stage.MarshalJSON(p.CountStages)
		if err != nil {
			s.respondError(ctx, collection, err)
			return
		}
		resp["countPipeline"] = json.RawMessage(count)
	}
	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) handleCount(ctx *gin.Context) {
	collection := ctx.Param("collection")
	req, lang, ok := s.parseRequest(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	count, err := s.service.Count(reqCtx, collection, lang, req)
	if err != nil {
		s.respondError(ctx, collection, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) handleCacheStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.pipelines.Stats())
}

func (s *Server) handleCacheInvalidate(ctx *gin.Context) {
	s.pipelines.Invalidate()
	s.logger.Info("Pipeline cache invalidated", zap.String("request_id", ctx.GetString(requestIDKey)))
	ctx.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(ctx *gin.Context) {
	checks := gin.H{"engine": "ok"}
	healthy := true

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx.Request.Context()); err != nil {
			s.logger.Warn("Engine health check failed", zap.Error(err))
			checks["engine"] = "failed"
			healthy = false
		}
	}

	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "red", "checks": checks})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "green", "checks": checks})
}

// parseRequest parses the query string and resolves the request language.
// It writes the error response itself and reports false on failure.
func (s *Server) parseRequest(ctx *gin.Context) (*parser.Request, string, bool) {
	req, err := s.queryParser.ParseValues(ctx.Request.URL.Query())
	if err != nil {
		s.respondError(ctx, ctx.Param("collection"), err)
		return nil, "", false
	}
	return req, resolveLang(ctx, req), true
}

// resolveLang picks the lang query parameter, then the lang cookie. An
// empty result selects the collection's default language.
func resolveLang(ctx *gin.Context, req *parser.Request) string {
	if req.Lang != "" {
		return req.Lang
	}
	if lang, err := ctx.Cookie(LangCookie); err == nil {
		return lang
	}
	return ""
}

func (s *Server) effectiveLang(collection, lang string) string {
	if lang != "" {
		return lang
	}
	return s.service.DefaultLang(collection)
}

func (s *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx.Request.Context(), s.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx.Request.Context())
}

func (s *Server) respondError(ctx *gin.Context, collection string, err error) {
	httpStatus, _, errType := classify(err)

	fields := []zap.Field{
		zap.String("request_id", ctx.GetString(requestIDKey)),
		zap.String("collection", collection),
		zap.Int("status", httpStatus),
		zap.Error(err),
	}
	if httpStatus >= http.StatusInternalServerError {
		s.logger.Error("Query failed", fields...)
	} else {
		s.logger.Debug("Query rejected", fields...)
	}

	ctx.JSON(httpStatus, gin.H{
		"error": gin.H{
			"type":   errType,
			"reason": err.Error(),
		},
	})
}
