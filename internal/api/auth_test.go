package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func Test_bearerToken(t *testing.T) {
	t.Run("from cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "cookie-token"})

		token, err := bearerToken(req)
		assert.NoError(t, err, "expected no error")
		assert.Equal(t, "cookie-token", token, "expected token from cookie")
	})

	t.Run("from authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer header-token")

		token, err := bearerToken(req)
		assert.NoError(t, err, "expected no error")
		assert.Equal(t, "header-token", token, "expected token from header")
	})

	t.Run("cookie takes precedence over header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "cookie-token"})
		req.Header.Set("Authorization", "Bearer header-token")

		token, err := bearerToken(req)
		assert.NoError(t, err, "expected no error")
		assert.Equal(t, "cookie-token", token, "expected token from cookie")
	})

	t.Run("no credential", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		_, err := bearerToken(req)
		assert.Error(t, err, "expected error with no credential")
	})
}

func TestJwtRoundTrip(t *testing.T) {
	app := &ChatApp{signingKey: []byte("test-signing-key")}

	token, err := app.createJwtForSession(42, defaultJwtExpiration)
	assert.NoError(t, err, "expected no error creating token")
	assert.NotEmpty(t, token, "expected a token")

	userId, err := app.extractUserIdFromToken(token)
	assert.NoError(t, err, "expected no error extracting user id")
	assert.Equal(t, 42, userId, "expected user id to round trip")
}

func TestExtractUserIdFromToken_Errors(t *testing.T) {
	app := &ChatApp{signingKey: []byte("test-signing-key")}

	t.Run("garbage token", func(t *testing.T) {
		_, err := app.extractUserIdFromToken("not-a-token")
		assert.Error(t, err, "expected error for garbage token")
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := &ChatApp{signingKey: []byte("different-key")}
		token, err := other.createJwtForSession(1, defaultJwtExpiration)
		assert.NoError(t, err, "expected no error creating token")

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err, "expected error for token signed with another key")
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := app.createJwtForSession(1, -time.Minute)
		assert.NoError(t, err, "expected no error creating token")

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err, "expected error for expired token")
	})
}

func TestCreateJwtCookie(t *testing.T) {
	cookie := createJwtCookie("token-value", time.Hour)
	assert.Equal(t, tokenCookieKey, cookie.Name, "expected cookie name to match")
	assert.Equal(t, "token-value", cookie.Value, "expected cookie value to match")
	assert.True(t, cookie.HttpOnly, "expected cookie to be http only")
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite, "expected same site strict mode")
	assert.True(t, cookie.Expires.After(time.Now()), "expected cookie expiry in the future")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("password123")
	assert.NoError(t, err, "expected no error hashing password")
	assert.NotEqual(t, "password123", hash, "expected hash to differ from password")

	assert.True(t, verifyPassword(hash, "password123"), "expected correct password to verify")
	assert.False(t, verifyPassword(hash, "wrong-password"), "expected wrong password to fail")
}
