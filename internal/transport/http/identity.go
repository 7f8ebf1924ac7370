package http

import (
	"net"
	"net/http"
	"strings"

	"quizhub/internal/domain"
)

// Authentication happens upstream. The gateway forwards the authenticated user in
// HeaderUserID; anonymous clients send a stable HeaderSessionID.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

// requestIdentity builds the taker identity. RemoteAddr is already rewritten by
// the RealIP middleware when a proxy forwards the client address.
func requestIdentity(r *http.Request, name, email string) domain.Identity {
	return domain.Identity{
		UserID:    actorID(r),
		SessionID: r.Header.Get(HeaderSessionID),
		Name:      name,
		Email:     email,
		IP:        clientIP(r.RemoteAddr),
	}.Normalize()
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
