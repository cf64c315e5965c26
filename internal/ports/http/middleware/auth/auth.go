package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/square/go-jose.v2/jwt"
)

type contextKey string

// ActorKey holds the authenticated actor id in the request context.
const ActorKey contextKey = "actorID"

// IdentityReader resolves the caller to an actor id from the bearer
// token's subject claim. Token signature verification happens at the
// gateway in front of this service; capability checks run in the core.
type IdentityReader struct {
	logger *zap.Logger
}

func NewIdentityReader(logger *zap.Logger) IdentityReader {
	return IdentityReader{logger: logger}
}

func (i IdentityReader) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := parseToken(token)
		if err != nil {
			i.logger.Warn("failed to parse the auth token: " + err.Error())
			next.ServeHTTP(w, r)
			return
		}

		if subject, ok := claims["sub"].(string); ok && subject != "" {
			r = r.WithContext(context.WithValue(r.Context(), ActorKey, subject))
		}

		next.ServeHTTP(w, r)
	})
}

// Actor returns the authenticated actor id, or "" if the request
// carried no usable identity.
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(ActorKey).(string)
	return actor
}

func parseToken(tokenString string) (map[string]interface{}, error) {

	var claims map[string]interface{}

	token, err := jwt.ParseSigned(tokenString)
	if err != nil {
		return nil, err
	}

	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, err
	}

	return claims, nil
}
