package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, tenantID string, scopes []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
		Scopes:   scopes,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func authedRequest(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthPopulatesClaims(t *testing.T) {
	var gotTenant, gotUser string
	var gotScopes []string
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = GetTenantID(r.Context())
		gotUser = GetUserID(r.Context())
		gotScopes = GetScopes(r.Context())
	}))

	rec := authedRequest(t, h, signToken(t, "t1", []string{"conversations:write"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t1", gotTenant)
	require.Equal(t, "operator-1", gotUser)
	require.Equal(t, []string{"conversations:write"}, gotScopes)
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	h := Auth(testSecret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	require.Equal(t, http.StatusUnauthorized, authedRequest(t, h, "").Code)
	require.Equal(t, http.StatusUnauthorized, authedRequest(t, h, "not-a-jwt").Code)

	// Signed with the wrong secret.
	wrong := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{TenantID: "t1"})
	signed, err := wrong.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, authedRequest(t, h, signed).Code)
}

func TestRequireScope(t *testing.T) {
	var ran bool
	h := Auth(testSecret)(RequireScope("conversations:write")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		ran = true
	})))

	rec := authedRequest(t, h, signToken(t, "t1", []string{"conversations:read"}))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, ran)

	rec = authedRequest(t, h, signToken(t, "t1", []string{"conversations:read", "conversations:write"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ran)
}
