package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/models"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func newEngine(cfg AuthConfig, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := append([]gin.HandlerFunc{JWTAuth(cfg)}, extra...)
	chain = append(chain, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})
	r.GET("/x", chain...)
	return r
}

func call(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newEngine(AuthConfig{Secret: secret, Issuer: "idp"})
	exp := time.Now().Add(time.Hour).Unix()

	w := call(r, sign(t, jwt.MapClaims{"sub": "u-1", "iss": "idp", "exp": exp, "app_metadata": map[string]any{"role": "Recruiter"}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u-1","role":"recruiter"}`, w.Body.String())

	w = call(r, sign(t, jwt.MapClaims{"sub": "u-2", "iss": "idp", "exp": exp}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"user"`)

	assert.Equal(t, http.StatusUnauthorized, call(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, sign(t, jwt.MapClaims{"sub": "u-1", "iss": "other", "exp": exp})).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, sign(t, jwt.MapClaims{"iss": "idp", "exp": exp})).Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, sign(t, jwt.MapClaims{"sub": "u-1", "iss": "idp", "exp": time.Now().Add(-time.Minute).Unix()})).Code)
}

func TestJWTAuthWithoutSecret(t *testing.T) {
	r := newEngine(AuthConfig{})
	assert.Equal(t, http.StatusInternalServerError, call(r, "anything").Code)
}

func TestRequireRole(t *testing.T) {
	r := newEngine(AuthConfig{Secret: secret}, RequireStaff())
	exp := time.Now().Add(time.Hour).Unix()

	assert.Equal(t, http.StatusForbidden, call(r, sign(t, jwt.MapClaims{"sub": "c-1", "exp": exp})).Code)
	assert.Equal(t, http.StatusOK, call(r, sign(t, jwt.MapClaims{"sub": "a-1", "exp": exp, "app_metadata": map[string]any{"role": "admin"}})).Code)

	svc := newEngine(AuthConfig{Secret: secret}, RequireRole(models.RoleService))
	assert.Equal(t, http.StatusForbidden, call(svc, sign(t, jwt.MapClaims{"sub": "a-1", "exp": exp, "app_metadata": map[string]any{"role": "admin"}})).Code)
}
