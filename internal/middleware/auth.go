package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/technosupport/ts-streamgw/internal/tokens"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext holds the validated playback grant for a request.
type AuthContext struct {
	UserID   string
	OrgID    string
	StreamID string
}

// GetAuthContext retrieves the AuthContext from the context.
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(authContextKey).(*AuthContext)
	return val, ok
}

// WithAuthContext attaches the AuthContext to the context.
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

type TokenValidator interface {
	Validate(tokenString, streamID string) (*tokens.Claims, error)
}

type PlaybackAuth struct {
	tokens TokenValidator
}

func NewPlaybackAuth(t TokenValidator) *PlaybackAuth {
	return &PlaybackAuth{tokens: t}
}

// Middleware verifies the playback token and injects AuthContext. The
// token rides either the Authorization header or, for media elements
// that cannot set headers, the token query parameter.
func (m *PlaybackAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Validate(tokenString, "")
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := WithAuthContext(r.Context(), &AuthContext{
			UserID:   claims.Subject,
			OrgID:    claims.OrgID,
			StreamID: claims.StreamID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
