package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	out := buf.String()
	assert.Contains(t, out, "Request received")
	assert.Contains(t, out, "Request completed")
	assert.Contains(t, out, `"status":418`)
}

func TestRecoverReturns500(t *testing.T) {
	h := Recover(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestCORSAllowedOrigin(t *testing.T) {
	h := CORS([]string{"https://stallion.example"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "https://stallion.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://stallion.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflightOnRouter(t *testing.T) {
	router := mux.NewRouter()
	router.Handle("/api/measurements", okHandler).Methods("POST")
	h := CORS([]string{"*"})(router)

	req := httptest.NewRequest(http.MethodOptions, "/api/measurements", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "POST"))
}

func TestRateLimiterPerClient(t *testing.T) {
	l := NewRateLimiter(0.001, 2, testLogger())
	h := l.Middleware()(okHandler)

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/measurements", nil)
		req.RemoteAddr = ip + ":4242"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))
}

func TestRateLimiterIgnoresForwardedForFromClients(t *testing.T) {
	l := NewRateLimiter(0.001, 1, testLogger())
	h := l.Middleware()(okHandler)

	passed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/measurements", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			passed++
		}
	}
	assert.Equal(t, 1, passed)
	assert.Len(t, l.clients, 1)
}

func TestRateLimiterHonoursForwardedForFromTrustedProxy(t *testing.T) {
	l := NewRateLimiter(0.001, 1, testLogger())
	require.NoError(t, l.TrustProxies([]string{"10.0.0.0/8"}))
	h := l.Middleware()(okHandler)

	call := func(fwd string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.2:443"
		req.Header.Set("X-Forwarded-For", fwd)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, call("203.0.113.9, 10.0.0.1").Code)
	rr := call("203.0.113.9")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// A spoofed leftmost hop does not change the client seen by the proxy.
	assert.Equal(t, http.StatusTooManyRequests, call("1.2.3.4, 203.0.113.9").Code)
	assert.Equal(t, http.StatusOK, call("203.0.113.10").Code)
}

func TestParseCIDRs(t *testing.T) {
	nets, err := ParseCIDRs([]string{"10.0.0.0/8", "192.0.2.4", "::1"})
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.Equal(t, "192.0.2.4/32", nets[1].String())

	_, err = ParseCIDRs([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestRateLimiterSweep(t *testing.T) {
	l := NewRateLimiter(1, 1, testLogger())
	now := time.Now()
	l.now = func() time.Time { return now }

	l.get("10.0.0.1")
	now = now.Add(5 * time.Minute)
	l.get("10.0.0.2")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "10.0.0.2")
}
