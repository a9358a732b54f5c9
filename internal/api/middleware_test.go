package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbridge/dcbridge/internal/log"
)

func TestRecoveryMiddleware_WithPanic(t *testing.T) {
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	wrapped := recoveryMiddleware(log.NewNop())(handler)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	wrapped := recoveryMiddleware(log.NewNop())(handler)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
}

func TestLoggingWriter_CapturesStatusAndBytes(t *testing.T) {
	w := httptest.NewRecorder()
	lw := &loggingWriter{w: w}

	lw.WriteHeader(http.StatusNotFound)
	n, err := lw.Write([]byte("nope"))
	require.NoError(t, err)

	assert.Equal(t, 4, n)
	assert.Equal(t, http.StatusNotFound, lw.statusCode)
	assert.Equal(t, int64(4), lw.bytesWritten)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoggingWriter_ImplicitOK(t *testing.T) {
	w := httptest.NewRecorder()
	lw := &loggingWriter{w: w}

	_, err := lw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, lw.statusCode)
}

func TestCORSMiddleware_AllowedList(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := corsMiddleware([]string{"http://localhost:8080"})(next)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:8080", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_AllowAllByDefault(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := corsMiddleware(nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter_BurstAndRefill(t *testing.T) {
	rl := newRateLimiter(100.0, 2)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))

	// Other IPs are independent buckets.
	assert.True(t, rl.allow("10.0.0.2"))

	// 100 tokens/sec refills within a few ms.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.allow("10.0.0.1"))
}

func TestWriteJSON_SetsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, w.Body.String())
}

func TestWriteError_Shape(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "invalid_request", "bad body")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"bad body","code":"invalid_request"}`, w.Body.String())
}
