package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/teemow/gsc-mcp/internal/auth"
	"github.com/teemow/gsc-mcp/internal/logging"
	"github.com/teemow/gsc-mcp/internal/store"
)

// TokenResolver yields a provider access token valid for the immediate
// future, refreshing it if needed.
type TokenResolver interface {
	ResolveValidToken(ctx context.Context, userID string) (string, error)
}

// requireAPIKey guards the streaming endpoints. The key from the URL is
// checked against the store on EVERY request, both the initial SSE connect
// and each message POST, so revocation cuts off a live session at its next
// message.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if key == "" {
			unauthorized(w)
			return
		}

		cred, err := s.store.GetByAPIKey(r.Context(), key)
		if err != nil {
			// Unknown and revoked keys get the same answer.
			s.logger.Debug("rejected streaming request",
				logging.KeyOperation, "authorize",
				"path", r.URL.Path)
			unauthorized(w)
			return
		}

		ctx := auth.WithUserID(r.Context(), cred.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":  "invalid_api_key",
		"detail": "Invalid API key. Authenticate at / to obtain one.",
	})
}

// ensureFreshToken resolves a valid provider token before a stream opens,
// so a dead Google grant surfaces at connect instead of at the first tool
// call. Tool handlers still re-resolve per invocation.
func (s *Server) ensureFreshToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens != nil {
			userID, _ := auth.UserIDFromContext(r.Context())
			if _, err := s.tokens.ResolveValidToken(r.Context(), userID); err != nil {
				s.rejectStream(w, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rejectStream(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrReauthRequired):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":  "reauth_required",
			"detail": "Google access has expired. Sign in again at " + s.cfg.BaseURL + "/oauth/login to restore it.",
		})
	case errors.Is(err, auth.ErrProviderUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  "provider_unavailable",
			"detail": "Google is temporarily unavailable. Please try again shortly.",
		})
	default:
		s.logger.Error("token resolution at connect failed", logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
	}
}

// trackSSEConnections keeps the open-streams gauge accurate. The handler
// blocks for the lifetime of the stream.
func (s *Server) trackSSEConnections(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.SSEConnectionOpened()
		defer s.metrics.SSEConnectionClosed()
		next.ServeHTTP(w, r)
	})
}

// sseContextFunc carries the authenticated user from the validated HTTP
// request into the MCP tool context.
func sseContextFunc(ctx context.Context, r *http.Request) context.Context {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		return auth.WithUserID(ctx, userID)
	}
	return ctx
}

// lookupByAPIKey resolves a key for the status and revoke endpoints.
func (s *Server) lookupByAPIKey(ctx context.Context, key string) (*store.UserCredential, error) {
	return s.store.GetByAPIKey(ctx, key)
}
