package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MrSnakeDoc/marksync/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, r *http.Request) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec.Code
}

func TestRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := RateLimit(RateLimitConfig{Burst: 2, RefillPerIPPerMin: 60, now: func() time.Time { return now }})(ok)

	req := func(addr string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/sets", nil)
		r.RemoteAddr = addr
		return r
	}

	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.1:1")))
	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.1:2")))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req("10.0.0.1:3"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.2:1")), "other clients have their own bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(h, req("10.0.0.1:4")), "one token refilled")
}

func TestAllowOnlyCIDRS(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8"}, false, logger.Nop())(ok)

	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.RemoteAddr = "10.2.3.4:1234"
	assert.Equal(t, http.StatusOK, serve(h, r))

	r.RemoteAddr = "192.168.0.1:1234"
	assert.Equal(t, http.StatusForbidden, serve(h, r))

	open := AllowOnlyCIDRS(nil, false, logger.Nop())(ok)
	assert.Equal(t, http.StatusOK, serve(open, r))
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"marks.domain.ext", "*.lan"}, logger.Nop())(ok)

	tests := []struct {
		host string
		want int
	}{
		{"marks.domain.ext", http.StatusOK},
		{"MARKS.domain.ext:8080", http.StatusOK},
		{"box.lan", http.StatusOK},
		{"lan", http.StatusForbidden},
		{"evil.ext", http.StatusForbidden},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/sets", nil)
		r.Host = tt.host
		assert.Equal(t, tt.want, serve(h, r), tt.host)
	}
}
