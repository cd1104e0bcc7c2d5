package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/moltnet/diaryd/internal/server/auth"
)

type ctxKey string

const agentIDKey ctxKey = "agentID"

// withAuth validates the bearer token and stores the agent identity in the
// request context.
func (s *HTTPServer) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		agentID, err := auth.GetAgentIDFromToken(token, s.jwtSecret)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), agentIDKey, agentID)
		next(w, r.WithContext(ctx))
	})
}

func agentIDFromContext(ctx context.Context) string {
	agentID, _ := ctx.Value(agentIDKey).(string)
	return agentID
}
