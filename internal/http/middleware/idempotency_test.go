package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	userID, scope, key string
}

func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader(HeaderUserID); uid != "" {
			c.Set(ctxKeyUserID, uid)
		}
		c.Next()
	})
	r.Use(IdempotencyValidator(opts, lookup))
	handler := func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": k, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	}
	r.POST("/api/v1/stress", handler)
	r.GET("/api/v1/home", handler)
	return r
}

func postIdem(r *gin.Engine, path, user, key string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestIdempotencyHelpers_Defaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/raw/path", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected no key by default")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must read as absent")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool replay flag must read as false")
	}
	if got := IdempotencyScope(c); got != "/raw/path" {
		t.Fatalf("scope fallback = %q", got)
	}
}

func TestIdempotencyValidator_NoHeader_NoLookup(t *testing.T) {
	called := false
	r := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	})
	w, body := postIdem(r, "/api/v1/stress", "a@b.c", "")
	if w.Code != http.StatusOK || body["key"] != "" || body["replay"] != false {
		t.Fatalf("unexpected: %d %v", w.Code, body)
	}
	if called {
		t.Fatalf("lookup must not run without a key")
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	r := idemRouter(IdempotencyOptions{MaxLen: 8, Pattern: regexp.MustCompile(`^[a-z0-9-]+$`)}, nil)
	for _, key := range []string{"way-too-long-key", "BAD_KEY"} {
		w, body := postIdem(r, "/api/v1/stress", "a@b.c", key)
		if w.Code != http.StatusBadRequest || body["code"] != "bad_idempotency_key" {
			t.Fatalf("key %q: expected 400 bad_idempotency_key, got %d %v", key, w.Code, body)
		}
	}
}

func TestIdempotencyValidator_LookupScopedByUserAndRoute(t *testing.T) {
	var calls []lookupCall
	r := idemRouter(IdempotencyOptions{}, func(_ context.Context, uid, scope, key string, _ time.Time) (bool, error) {
		calls = append(calls, lookupCall{uid, scope, key})
		return key == "seen", nil
	})

	w, body := postIdem(r, "/api/v1/stress", "a@b.c", "fresh")
	if w.Code != http.StatusOK || body["key"] != "fresh" || body["replay"] != false || body["bypass"] != false {
		t.Fatalf("miss: %d %v", w.Code, body)
	}
	_, body = postIdem(r, "/api/v1/stress", "a@b.c", "seen")
	if body["replay"] != true || body["bypass"] != true {
		t.Fatalf("hit: %v", body)
	}
	if len(calls) != 2 || calls[1] != (lookupCall{"a@b.c", "/api/v1/stress", "seen"}) {
		t.Fatalf("unexpected lookup calls: %+v", calls)
	}
}

func TestIdempotencyValidator_SkipsLookupWithoutUser_AndOnGET(t *testing.T) {
	called := 0
	r := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		called++
		return true, nil
	})
	if _, body := postIdem(r, "/api/v1/stress", "", "k1"); body["key"] != "k1" || body["replay"] != false {
		t.Fatalf("anonymous: %v", body)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/home", nil)
	req.Header.Set(HeaderUserID, "a@b.c")
	req.Header.Set(HeaderIdempotencyKey, "not valid!")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET must ignore the header, got %d", w.Code)
	}
	if called != 0 {
		t.Fatalf("lookup called %d times", called)
	}
}

func TestIdempotencyValidator_LookupErrorDoesNotBlock(t *testing.T) {
	r := idemRouter(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		return false, errors.New("db down")
	})
	w, body := postIdem(r, "/api/v1/stress", "a@b.c", "k1")
	if w.Code != http.StatusOK || body["replay"] != false {
		t.Fatalf("unexpected: %d %v", w.Code, body)
	}
}
