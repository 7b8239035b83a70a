package bridge

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalAuthorizerLoopback(t *testing.T) {
	auth := &LocalAuthorizer{}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	result := auth.Authorize(r)
	assert.True(t, result.Authorized)
	assert.True(t, result.IsLoopback)
	assert.Empty(t, result.DeviceID)

	r.RemoteAddr = "[::1]:54321"
	result = auth.Authorize(r)
	assert.True(t, result.Authorized)
	assert.True(t, result.IsLoopback)
}

func TestLocalAuthorizerRejectsRemoteWithoutValidator(t *testing.T) {
	auth := &LocalAuthorizer{}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.168.1.10:54321"
	r.Header.Set("Authorization", "Bearer some-token")
	assert.False(t, auth.Authorize(r).Authorized)
}

func TestLocalAuthorizerValidatesBearerToken(t *testing.T) {
	auth := &LocalAuthorizer{
		ValidateToken: func(token string) (string, bool) {
			if token == "good" {
				return "device-a", true
			}
			return "", false
		},
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.168.1.10:54321"
	r.Header.Set("Authorization", "Bearer good")
	result := auth.Authorize(r)
	assert.True(t, result.Authorized)
	assert.False(t, result.IsLoopback)
	assert.Equal(t, "device-a", result.DeviceID)

	r.Header.Set("Authorization", "Bearer bad")
	assert.False(t, auth.Authorize(r).Authorized)
}

func TestLocalAuthorizerTokenQueryFallback(t *testing.T) {
	auth := &LocalAuthorizer{
		ValidateToken: func(token string) (string, bool) { return "device-b", token == "qtoken" },
	}

	r := httptest.NewRequest("GET", "/ws?token=qtoken", nil)
	r.RemoteAddr = "192.168.1.10:54321"
	result := auth.Authorize(r)
	assert.True(t, result.Authorized)
	assert.Equal(t, "device-b", result.DeviceID)
}

func TestLocalAuthorizerRejectsMissingToken(t *testing.T) {
	auth := &LocalAuthorizer{
		ValidateToken: func(string) (string, bool) { return "device", true },
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.168.1.10:54321"
	assert.False(t, auth.Authorize(r).Authorized)
}
