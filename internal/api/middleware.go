package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "user_id"

// defaultUserID is used when authentication is disabled (local development
// and single-user deployments).
const defaultUserID = "default-user"

// UserFromContext returns the authenticated user id set by Authenticator.
func UserFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return defaultUserID
}

// Authenticator verifies a Bearer JWT (HS256) and stores its subject claim in
// the request context. With required=false, requests without a token pass
// through as the default user; a present-but-invalid token is still rejected.
func Authenticator(secret string, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if required {
					respondWithJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing authorization token."})
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			tokenString := strings.TrimPrefix(header, "Bearer ")
			if tokenString == header {
				respondWithJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Malformed authorization header."})
				return
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				respondWithJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid authorization token."})
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				respondWithJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Token has no subject."})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
