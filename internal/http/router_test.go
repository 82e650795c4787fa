package httpapi

import (
	"bytes"
	"context"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/wellness-sync/internal/config"
	"github.com/tbourn/wellness-sync/internal/gateway"
	"github.com/tbourn/wellness-sync/internal/http/handlers"
	"github.com/tbourn/wellness-sync/internal/http/middleware"
	"github.com/tbourn/wellness-sync/internal/repo"
	"github.com/tbourn/wellness-sync/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newInference serves a stress classifier that counts predictions.
func newInference(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		case "/predict":
			atomic.AddInt32(calls, 1)
			_, _ = io.WriteString(w, `{"predicted_class":"Moderate"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:         100,
		RateBurst:       10,
		SubmitRateRPS:   100,
		SubmitRateBurst: 10,
		MaxUploadBytes:  1 << 20,
		IdempotencyTTL:  time.Hour,
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newApp(t *testing.T, cfg config.Config, calls *int32) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	srv := newInference(t, calls)
	gw := gateway.New(gateway.Endpoints{
		gateway.KindStress: {PredictURL: srv.URL + "/predict", HealthURL: srv.URL + "/health"},
	}, 2*time.Second)

	store := repo.NewDocumentStore(db)
	syncSvc := services.NewSyncService(store, gw)

	r := gin.New()
	RegisterRoutes(r, Deps{
		Sync:               syncSvc,
		History:            services.NewHistoryService(store),
		Views:              services.NewHomeService(syncSvc),
		Inference:          gw,
		LocalDB:            db,
		DocumentsInLocalDB: true,
	}, cfg)
	return r
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	var calls int32
	r := newApp(t, testConfig(), &calls)

	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("request id / security headers missing: %v", w.Header())
	}

	w = do(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	w = do(r, http.MethodGet, "/nope", "")
	var er handlers.ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusNotFound || er.Code != handlers.ErrCodeNotFound {
		t.Fatalf("GET /nope expected 404 envelope, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	w = do(r, http.MethodGet, "/ready", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"stress":"ok"`) {
		t.Fatalf("GET /ready = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	var calls int32
	r := newApp(t, cfg, &calls)

	w := do(r, http.MethodGet, "/health", "", "Origin", "http://example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); w.Code != http.StatusOK || got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %d %q", w.Code, got)
	}
}

func TestAPI_SubmitTierLimitedSeparatelyFromReads(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitRateRPS, cfg.SubmitRateBurst = 0.01, 1
	var calls int32
	r := newApp(t, cfg, &calls)
	user := []string{middleware.HeaderUserID, "a@b.c"}

	if w := do(r, http.MethodPost, "/api/v1/stress", `{"x":1}`, user...); w.Code != http.StatusOK {
		t.Fatalf("first submit: %d %s", w.Code, w.Body.String())
	}
	w := do(r, http.MethodPost, "/api/v1/stress", `{"x":1}`, user...)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second submit: %d %s", w.Code, w.Body.String())
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("limited submit must not reach inference, calls=%d", n)
	}
	w = do(r, http.MethodGet, "/api/v1/predictions/stress/latest", "", user...)
	if w.Code != http.StatusOK || w.Header().Get("Cache-Control") != "private, no-cache" {
		t.Fatalf("read after exhausted submits: %d %q", w.Code, w.Header().Get("Cache-Control"))
	}
}

func TestAPI_SubmitThenRead(t *testing.T) {
	var calls int32
	r := newApp(t, testConfig(), &calls)
	user := []string{middleware.HeaderUserID, "Student@Uni.lk"}

	w := do(r, http.MethodGet, "/api/v1/home", "", user...)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"stress_level":"Unknown"`) {
		t.Fatalf("home before submit: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/v1/stress", `{"sleepHours":5}`, user...)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"label":"Moderate"`) {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "private, no-store" {
		t.Fatalf("submit must not be cached: %q", w.Header().Get("Cache-Control"))
	}

	w = do(r, http.MethodGet, "/api/v1/predictions/stress/latest", "", user...)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"label":"Moderate"`) {
		t.Fatalf("latest: %d %s", w.Code, w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag on sqlite backend")
	}
	w = do(r, http.MethodGet, "/api/v1/predictions/stress/latest", "", append(user, "If-None-Match", etag)...)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/history?domains=stress&n=5", "", user...)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"predictedClass":"Moderate"`) {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
}

func TestAPI_IdempotentSubmit(t *testing.T) {
	var calls int32
	r := newApp(t, testConfig(), &calls)
	hdr := []string{middleware.HeaderUserID, "a@b.c", middleware.HeaderIdempotencyKey, "retry-1"}

	first := do(r, http.MethodPost, "/api/v1/stress", `{"x":1}`, hdr...)
	second := do(r, http.MethodPost, "/api/v1/stress", `{"x":1}`, hdr...)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("codes %d %d", first.Code, second.Code)
	}
	if second.Header().Get(handlers.HeaderReplayed) != "true" || !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("second call must be a replay: %v %s", second.Header(), second.Body.String())
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("inference called %d times", calls)
	}

	w := do(r, http.MethodGet, "/api/v1/history?domains=stress", "", middleware.HeaderUserID, "a@b.c")
	if n := strings.Count(w.Body.String(), `"predictedClass"`); n != 1 {
		t.Fatalf("expected one history entry, got %d: %s", n, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/v1/stress", `{"x":1}`, middleware.HeaderUserID, "a@b.c", middleware.HeaderIdempotencyKey, "bad key!")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed key: %d", w.Code)
	}
}

func TestAPI_AuthAndErrors(t *testing.T) {
	var calls int32
	cfg := testConfig()
	r := newApp(t, cfg, &calls)

	if w := do(r, http.MethodGet, "/api/v1/home", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", w.Code)
	}

	w := do(r, http.MethodPost, "/api/v1/study-plan", `{"x":1}`, middleware.HeaderUserID, "a@b.c")
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), handlers.ErrCodeDependencyMissing) {
		t.Fatalf("study plan without profile: %d %s", w.Code, w.Body.String())
	}

	// Music has no configured endpoint: the gateway reports a transport failure.
	w = do(r, http.MethodPost, "/api/v1/music", `{"x":1}`, middleware.HeaderUserID, "a@b.c")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("music without endpoint: %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/api/v1/stress", `{"x":"`+strings.Repeat("y", maxJSONBody)+`"}`, middleware.HeaderUserID, "a@b.c")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: %d", w.Code)
	}
}

func TestAPI_Gzip(t *testing.T) {
	var calls int32
	r := newApp(t, testConfig(), &calls)

	w := do(r, http.MethodGet, "/api/v1/home", "", middleware.HeaderUserID, "a@b.c", "Accept-Encoding", "gzip")
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers=%v", w.Header())
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if !strings.Contains(string(body), `"full_name"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_idempotencyLookup(t *testing.T) {
	if idempotencyLookup(nil) != nil {
		t.Fatalf("nil db must disable the lookup")
	}
	db := newTestDB(t)
	lookup := idempotencyLookup(db)
	now := time.Now().UTC()

	if ok, err := lookup(context.Background(), "u1", "/api/v1/stress", "k", now); ok || err != nil {
		t.Fatalf("miss: %v %v", ok, err)
	}
	if _, err := repo.CreateIdempotency(context.Background(), db, "u1", "/api/v1/stress", "k", 200, []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ok, err := lookup(context.Background(), "u1", "/api/v1/stress", "k", now); !ok || err != nil {
		t.Fatalf("hit: %v %v", ok, err)
	}

	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if _, err := lookup(context.Background(), "u1", "/api/v1/stress", "k", now); err == nil {
		t.Fatalf("expected error on closed db")
	}
}
