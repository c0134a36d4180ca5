// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/datagate/datagate/gateway/gerr"
)

// claims extracts the caller identity from the Authorization header.
// An absent header means an anonymous caller. With a configured secret
// the token signature is verified; without one the claims are trusted
// as-is.
func (server *Server) claims(r *http.Request) (jwt.MapClaims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, gerr.Malformed.New("authorization header is not a bearer token")
	}

	claims := jwt.MapClaims{}
	if server.config.TokenSecret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, gerr.Malformed.New("cannot parse bearer token: %v", err)
		}
		return claims, nil
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, Error.New("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(server.config.TokenSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, gerr.PermissionDenied.New("bearer token rejected")
	}
	return claims, nil
}

// withAdmin guards the management API behind the configured admin role.
func (server *Server) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if server.config.AdminRole == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := server.claims(r)
		if err != nil {
			server.serveError(w, err)
			return
		}
		if !hasRole(claims, server.config.AdminRole) {
			server.serveError(w, gerr.PermissionDenied.New("management API requires role %q", server.config.AdminRole))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasRole(claims jwt.MapClaims, want string) bool {
	if claims == nil {
		return false
	}
	switch roles := claims["roles"].(type) {
	case []string:
		for _, role := range roles {
			if role == want {
				return true
			}
		}
	case []any:
		for _, role := range roles {
			if s, ok := role.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
