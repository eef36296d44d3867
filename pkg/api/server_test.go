package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/pipewright/pipewright/pkg/common/metrics"
	"github.com/pipewright/pipewright/pkg/query/executor"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const testSchema = `
collections:
  items:
    search_fields: [name]
    fields:
      name: {type: string}
      age: {type: number}
      createdAt: {type: date}
      owner: {type: relation, ref: User}
  users:
    fields:
      email: {type: string}
    settings:
      enable_total_count: false
`

type fakeAggregator struct {
	mu         sync.Mutex
	docs       []bson.M
	err        error
	calls      int
	collection string
	pipeline   bson.A
}

func (f *fakeAggregator) Aggregate(ctx context.Context, collection string, pipeline bson.A) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.collection = collection
	f.pipeline = pipeline
	return f.docs, f.err
}

type pingingAggregator struct {
	fakeAggregator
	pingErr error
}

func (p *pingingAggregator) Ping(ctx context.Context) error {
	return p.pingErr
}

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		NodeID:         "test",
		BindAddr:       "127.0.0.1",
		RequestTimeout: time.Second,
		CacheSize:      100,
		CacheTTL:       time.Minute,
		Compiler:       config.DefaultCompilerSettings(),
	}
}

func newTestServer(t *testing.T, agg executor.Aggregator) *Server {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(), agg)
}

func newTestServerWithConfig(t *testing.T, cfg *config.ServerConfig, agg executor.Aggregator) *Server {
	t.Helper()
	registry, err := schema.ParseRegistry([]byte(testSchema), cfg.Compiler)
	require.NoError(t, err)

	collector := metrics.NewMetricsCollector("test", prometheus.NewRegistry())
	s, err := NewServer(cfg, registry, agg, collector, zap.NewNop())
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)
	return s
}

func get(t *testing.T, s *Server, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type explainBody struct {
	Collection    string                   `json:"collection"`
	Lang          string                   `json:"lang"`
	Pipeline      []map[string]interface{} `json:"pipeline"`
	CountPipeline []map[string]interface{} `json:"countPipeline"`
}

func stageNames(stages []map[string]interface{}) []string {
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		for k := range s {
			names = append(names, k)
		}
	}
	return names
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(testConfig(), schema.NewRegistry(), &fakeAggregator{}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewServer(testConfig(), schema.NewRegistry(), &fakeAggregator{}, metrics.NewMetricsCollector("test", prometheus.NewRegistry()), nil)
	assert.Error(t, err)
}

func TestHandleQuery(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{
		"documents":  bson.A{bson.M{"name": "Jane", "age": int32(30)}},
		"totalCount": bson.A{bson.M{"total": int32(41)}},
	}}}
	s := newTestServer(t, agg)

	w := get(t, s, "/collections/items?name=Jane&page=2&limit=10")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Documents  []map[string]interface{} `json:"documents"`
		TotalCount *int64                   `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	assert.Equal(t, "Jane", body.Documents[0]["name"])
	require.NotNil(t, body.TotalCount)
	assert.Equal(t, int64(41), *body.TotalCount)

	assert.Equal(t, 1, agg.calls)
	assert.Equal(t, "items", agg.collection)
	require.Len(t, agg.pipeline, 1)
	facet, ok := agg.pipeline[0].(bson.D)
	require.True(t, ok)
	assert.Equal(t, "$facet", facet[0].Key)
}

func TestHandleQueryWithoutTotalCount(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{"documents": bson.A{}}}}
	s := newTestServer(t, agg)

	w := get(t, s, "/collections/users")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"documents":[],"totalCount":null}`, w.Body.String())
}

func TestHandleExplain(t *testing.T) {
	agg := &fakeAggregator{}
	s := newTestServer(t, agg)

	w := get(t, s, "/collections/items/_pipeline?age[gte]=18&sort=-age&page=2&limit=5")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, agg.calls, "explain must not run the pipeline")

	var body explainBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "items", body.Collection)
	assert.Equal(t, "en", body.Lang)
	assert.Equal(t, []string{"$match", "$sort", "$skip", "$limit"}, stageNames(body.Pipeline))
	assert.Equal(t, map[string]interface{}{"age": map[string]interface{}{"$gte": 18.0}}, body.Pipeline[0]["$match"])
	assert.Equal(t, map[string]interface{}{"age": -1.0}, body.Pipeline[1]["$sort"])
	assert.Equal(t, 5.0, body.Pipeline[2]["$skip"])
	assert.Equal(t, 5.0, body.Pipeline[3]["$limit"])

	assert.Equal(t, []string{"$match", "$sort", "$count"}, stageNames(body.CountPipeline))
	assert.Equal(t, "total", body.CountPipeline[2]["$count"])
}

func TestHandleExplainCountDisabled(t *testing.T) {
	s := newTestServer(t, &fakeAggregator{})

	w := get(t, s, "/collections/users/_pipeline")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Contains(t, raw, "pipeline")
	assert.NotContains(t, raw, "countPipeline")
}

func TestHandleCount(t *testing.T) {
	agg := &fakeAggregator{docs: []bson.M{{"total": int32(7)}}}
	s := newTestServer(t, agg)

	w := get(t, s, "/collections/items/_count?age[lt]=65")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"count":7}`, w.Body.String())

	agg.docs = nil
	w = get(t, s, "/collections/items/_count?age[lt]=64")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0}`, w.Body.String())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		aggErr  error
		status  int
		errType string
	}{
		{"unknown collection", "/collections/orders", nil, http.StatusNotFound, errTypeCollectionNotFound},
		{"invalid filter value", "/collections/items?age=abc", nil, http.StatusBadRequest, "invalid_filter_value"},
		{"invalid pagination", "/collections/items?page=-1", nil, http.StatusBadRequest, "invalid_pagination"},
		{"unresolved relation", "/collections/items?name[p]=*", nil, http.StatusInternalServerError, "unresolved_relation"},
		{"engine failure", "/collections/items", errors.New("connection reset"), http.StatusBadGateway, errTypeEngine},
		{"engine timeout", "/collections/items", context.DeadlineExceeded, http.StatusGatewayTimeout, errTypeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeAggregator{err: tt.aggErr})
			w := get(t, s, tt.target)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeError(t, w)
			assert.Equal(t, tt.errType, body.Error.Type)
			assert.NotEmpty(t, body.Error.Reason)
		})
	}
}

func TestLanguageResolution(t *testing.T) {
	s := newTestServer(t, &fakeAggregator{})

	tests := []struct {
		name   string
		target string
		cookie *http.Cookie
		want   string
	}{
		{"default", "/collections/items/_pipeline", nil, "en"},
		{"cookie", "/collections/items/_pipeline", &http.Cookie{Name: LangCookie, Value: "it"}, "it"},
		{"query overrides cookie", "/collections/items/_pipeline?lang=de", &http.Cookie{Name: LangCookie, Value: "it"}, "de"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.cookie != nil {
				cookies = append(cookies, tt.cookie)
			}
			w := get(t, s, tt.target, cookies...)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var body explainBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Lang)
		})
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeAggregator{})

	w := get(t, s, "/collections")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.JSONEq(t, `{"collections":["items","users"]}`, w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeAggregator{})
	w := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	s = newTestServer(t, &pingingAggregator{})
	w = get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	s = newTestServer(t, &pingingAggregator{pingErr: errors.New("no primary")})
	w = get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"red","checks":{"engine":"failed"}}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeAggregator{})
	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestServer(t, &fakeAggregator{})
	require.Equal(t, http.StatusOK, get(t, s, "/collections/items/_pipeline?name=Jane").Code)
	require.Equal(t, http.StatusOK, get(t, s, "/collections/items/_pipeline?name=Jane").Code)

	w := get(t, s, "/_cache")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Hits    int64 `json:"hits"`
		Entries int   `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)

	req := httptest.NewRequest(http.MethodDelete, "/_cache", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, s.pipelines.Len())
}

func TestStartServesAndSweepsCache(t *testing.T) {
	cfg := testConfig()
	cfg.CacheTTL = time.Millisecond
	cfg.CacheCleanup = 5 * time.Millisecond
	s := newTestServerWithConfig(t, cfg, &fakeAggregator{})

	require.NoError(t, s.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	}()

	resp, err := http.Get("http://" + s.httpServer.Addr + "/collections/items/_pipeline?name=Jane")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool { return s.pipelines.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, s.pipelines.Stats().Expirations, int64(1))
}

func TestStartFailsWhenRESTPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.RESTPort = taken.Addr().(*net.TCPAddr).Port
	s := newTestServerWithConfig(t, cfg, &fakeAggregator{})

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.Nil(t, s.httpServer)

	require.NoError(t, s.Stop(context.Background()))
}
