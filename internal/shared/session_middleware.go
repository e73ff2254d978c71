package shared

import (
	"context"
	"log/slog"
	"net/http"
)

// commitWriter persists the session right before the response header is
// written, so Set-Cookie is never lost behind an early WriteHeader.
type commitWriter struct {
	http.ResponseWriter
	sess          *Session
	manager       *SessionManager
	ctx           context.Context
	req           *http.Request
	logger        *slog.Logger
	headerWritten bool
}

func (w *commitWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		if err := w.manager.Commit(w.ctx, w.ResponseWriter, w.req, w.sess); err != nil && w.logger != nil {
			w.logger.Error("failed to commit session", slog.Any("error", err))
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitWriter) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware loads the session into the request context and commits it
// with the response.
func (sm *SessionManager) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := sm.Load(ctx, r)
			if err != nil {
				if logger != nil {
					logger.Error("failed to load session", slog.Any("error", err))
				}
				w.Header().Set("Retry-After", "5")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			ctx = ContextWithSession(ctx, sess)
			r = r.WithContext(ctx)
			wrapped := &commitWriter{
				ResponseWriter: w,
				sess:           sess,
				manager:        sm,
				ctx:            ctx,
				req:            r,
				logger:         logger,
			}
			next.ServeHTTP(wrapped, r)
			if !wrapped.headerWritten {
				wrapped.WriteHeader(http.StatusOK)
			}
		})
	}
}
