package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/repoqa/internal/pkg/errcode"
	"github.com/xxxsen/repoqa/internal/pkg/jwt"
)

var secret = []byte("test-secret")

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, body []byte) int {
	var envelope struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	return envelope.Code
}

func TestJWTAuth(t *testing.T) {
	r := newEngine(JWTAuth(secret))
	token, err := jwt.GenerateToken("u-42", secret, time.Hour)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(r, req)
		assert.Equal(t, "u-42", w.Body.String())
	})
	t.Run("query token", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil))
		assert.Equal(t, "u-42", w.Body.String())
	})
	t.Run("missing", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/whoami", nil))
		assert.Equal(t, errcode.ErrUnauthorized, errorCode(t, w.Body.Bytes()))
	})
	t.Run("wrong secret", func(t *testing.T) {
		other, err := jwt.GenerateToken("u-42", []byte("other"), time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		w := serve(r, req)
		assert.Equal(t, errcode.ErrUnauthorized, errorCode(t, w.Body.Bytes()))
	})
	t.Run("bad scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Basic "+token)
		w := serve(r, req)
		assert.Equal(t, errcode.ErrUnauthorized, errorCode(t, w.Body.Bytes()))
	})
}

func TestCORSAllowlist(t *testing.T) {
	r := newEngine(CORS([]string{"https://app.example.com/"}))

	req := httptest.NewRequest(http.MethodOptions, "/whoami", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSOpen(t *testing.T) {
	r := newEngine(CORS(nil))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Len(t, w.Header().Get("X-Request-Id"), 36)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-Id", "abc")
	w = serve(r, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
}
