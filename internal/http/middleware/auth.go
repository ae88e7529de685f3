package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const professionalIDKey contextKey = "professionalID"

// ProfessionalJWT enforces an HMAC-signed JWT on the professional's own
// endpoints. The token's subject claim is the professional id.
func ProfessionalJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "professional auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			professionalID, err := uuid.Parse(claims.Subject)
			if err != nil {
				http.Error(w, "invalid token subject", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), professionalIDKey, professionalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithProfessionalID injects a professional id, bypassing JWT verification.
// Intended for handler tests.
func WithProfessionalID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, professionalIDKey, id)
}

// ProfessionalIDFromContext returns the authenticated professional id.
func ProfessionalIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(professionalIDKey).(uuid.UUID)
	return id, ok
}
