package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"workthread-notify-backend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 2, time.Minute)
	r := gin.New()
	r.Use(RateLimiter(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, 1, limiter.Clients())
}

func TestIPRateLimiter_SeparateBuckets(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 1, time.Minute)
	assert.True(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.False(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.True(t, limiter.GetLimiter("10.0.0.2").Allow())
	assert.Same(t, limiter.GetLimiter("10.0.0.1"), limiter.GetLimiter("10.0.0.1"))
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/key", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"public_key": "abc"})
	})

	first := do(r, http.MethodGet, "/key", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))

	second := do(r, http.MethodGet, "/key", nil)
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	do(r, http.MethodGet, "/key", http.Header{"Authorization": {"Bearer x"}})
	assert.Equal(t, 2, calls, "credentialed requests bypass the cache")
}

func TestBearerAuth(t *testing.T) {
	issuer := auth.NewIssuer("secret", "workthread", time.Hour)
	token, err := issuer.Mint(7, "Ravi")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", BearerAuth(issuer), func(c *gin.Context) {
		id := CurrentIdentity(c)
		c.JSON(http.StatusOK, gin.H{"id": id.UserID, "name": id.Name})
	})

	ok := do(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `{"id":7,"name":"Ravi"}`, ok.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer nope"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", http.Header{"Authorization": {"Token " + token}}).Code)
}

func TestCurrentIdentity_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, auth.Anonymous, CurrentIdentity(c))
}

func TestHookToken(t *testing.T) {
	r := gin.New()
	r.POST("/hook", HookToken("s3cret"), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/hook", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/hook", http.Header{HookTokenHeader: {"wrong"}}).Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/hook", http.Header{HookTokenHeader: {"s3cret"}}).Code)
}

func TestHookToken_Unconfigured(t *testing.T) {
	r := gin.New()
	r.POST("/hook", HookToken(""), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/hook", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/hook", http.Header{HookTokenHeader: {""}}).Code)
}
