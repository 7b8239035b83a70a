package bridge

import (
	"net"
	"net/http"
	"strings"
)

// AuthResult describes an authorization outcome for one incoming connection.
type AuthResult struct {
	Authorized bool
	IsLoopback bool
	DeviceID   string
}

// Authorizer decides whether an incoming WebSocket upgrade may proceed.
// Loopback connections get full visibility (presence and pairing events);
// device connections carry the device id their token resolved to.
type Authorizer interface {
	Authorize(r *http.Request) AuthResult
}

// TokenValidator resolves a bearer token to a device id. Token storage and
// pairing live outside this process.
type TokenValidator func(token string) (deviceID string, ok bool)

// LocalAuthorizer authorizes loopback connections unconditionally and remote
// connections through a token validator. A nil validator rejects all remote
// connections.
type LocalAuthorizer struct {
	ValidateToken TokenValidator
}

func (a *LocalAuthorizer) Authorize(r *http.Request) AuthResult {
	if isLoopbackAddr(r.RemoteAddr) {
		return AuthResult{Authorized: true, IsLoopback: true}
	}

	token := bearerToken(r)
	if token == "" || a.ValidateToken == nil {
		return AuthResult{}
	}
	deviceID, ok := a.ValidateToken(token)
	if !ok {
		return AuthResult{}
	}
	return AuthResult{Authorized: true, DeviceID: deviceID}
}

func isLoopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// bearerToken pulls the token from the Authorization header, falling back to
// the "token" query parameter for clients that cannot set headers on
// WebSocket upgrades.
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
