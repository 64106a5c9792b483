package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type contextKey int

const userIDKey contextKey = iota

// authenticate resolves the caller's API key to a user id via the credit
// ledger. When no ledger is configured the request passes through with an
// empty user id and no credit accounting happens downstream.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.meter == nil {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := bearerToken(r)
		if apiKey == "" {
			writeError(w, r, http.StatusUnauthorized, "missing API key")
			return
		}

		key, err := s.meter.ValidateKey(r.Context(), apiKey)
		if err != nil {
			zap.L().Error("validate API key",
				zap.Error(err),
				zap.String("request_id", middleware.GetReqID(r.Context())))
			writeError(w, r, http.StatusInternalServerError, "credential validation failed")
			return
		}
		if !key.Valid {
			writeError(w, r, http.StatusUnauthorized, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, key.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
