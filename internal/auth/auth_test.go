package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const secret = "ci-token-0123456789abcdef"

func minHash(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestNewServiceDisabled(t *testing.T) {
	s, err := NewService(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewServiceValidation(t *testing.T) {
	h := minHash(t, secret)
	cases := []Config{
		{Enabled: true},
		{Enabled: true, Tokens: []TokenConfig{{Name: "", Hash: h}}},
		{Enabled: true, Tokens: []TokenConfig{{Name: "ci", Hash: "plain"}}},
		{Enabled: true, Tokens: []TokenConfig{{Name: "ci", Hash: h}, {Name: "ci", Hash: h}}},
	}
	for i, c := range cases {
		_, err := NewService(c)
		assert.Error(t, err, "case %d", i)
	}
}

func TestAuthenticate(t *testing.T) {
	s, err := NewService(Config{Enabled: true, Tokens: []TokenConfig{
		{Name: "ci", Hash: minHash(t, secret)},
		{Name: "ops", Hash: minHash(t, "ops-token-0123456789abcdef")},
	}})
	require.NoError(t, err)

	name, err := s.Authenticate("", secret)
	require.NoError(t, err)
	assert.Equal(t, "ci", name)

	_, err = s.Authenticate("ops", secret)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHashToken(t *testing.T) {
	_, err := HashToken("short")
	require.Error(t, err)
	h, err := HashToken(secret)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte(secret)))
}

func TestGinAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := NewService(Config{Enabled: true, Tokens: []TokenConfig{{Name: "ci", Hash: minHash(t, secret)}}})
	require.NoError(t, err)

	r := gin.New()
	r.Use(s.GinAuth())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(NameKey)) })

	do := func(set func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if set != nil {
			set(req)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+secret) })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ci", rec.Body.String())

	rec = do(func(r *http.Request) { r.SetBasicAuth("ci", secret) })
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGinAuthNilService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var s *Service
	r := gin.New()
	r.Use(s.GinAuth())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
