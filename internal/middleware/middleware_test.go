package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"org_id": OrgID(c)}})
	})
	return r
}

func do(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentify(t *testing.T) {
	r := newEngine(Identify())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"anonymous", "", http.StatusOK, `{"code":0,"data":{"org_id":0}}`},
		{"valid", "12", http.StatusOK, `{"code":0,"data":{"org_id":12}}`},
		{"zero", "0", http.StatusBadRequest, ""},
		{"garbage", "abc", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		headers := map[string]string{}
		if tt.header != "" {
			headers[OrgHeader] = tt.header
		}
		w := do(r, headers)
		if w.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.status)
		}
		if tt.body != "" && w.Body.String() != tt.body {
			t.Errorf("%s: body = %s, want %s", tt.name, w.Body.String(), tt.body)
		}
	}
}

func TestAdminOnly(t *testing.T) {
	r := newEngine(AdminOnly("secret"))

	if w := do(r, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", w.Code)
	}
	if w := do(r, map[string]string{AdminHeader: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	if w := do(r, map[string]string{AdminHeader: "secret"}); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestRedisRateLimitPerOrganization(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	r := newEngine(Identify(), RedisRateLimit(rdb, 2, time.Minute))
	org1 := map[string]string{OrgHeader: "1"}

	for i := 0; i < 2; i++ {
		if w := do(r, org1); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
	if w := do(r, org1); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", w.Code)
	}
	if w := do(r, map[string]string{OrgHeader: "2"}); w.Code != http.StatusOK {
		t.Errorf("other organization: status = %d, want 200", w.Code)
	}
}

func TestRedisRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	mr.Close()

	r := newEngine(RedisRateLimit(rdb, 1, time.Minute), RequestLogger())
	for i := 0; i < 3; i++ {
		if w := do(r, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 while redis is down", i+1, w.Code)
		}
	}
}
