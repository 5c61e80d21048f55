package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/josh-kwaku/travel-booking-api/internal/handler"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
	"github.com/josh-kwaku/travel-booking-api/internal/repository"
)

type idempotencyRepository interface {
	Get(ctx context.Context, key, route string) (*repository.IdempotencyCacheEntry, error)
	Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error
}

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "X-Idempotent-Replayed"
	idempotencyTTL    = 24 * time.Hour
	maxIdempotencyKey = 255
)

// Idempotency replays the first response for a repeated Idempotency-Key on
// the same route. Requests without the header pass straight through. Server
// errors are not cached so the caller can retry. Bodies above maxBody are
// rejected with 413 before anything is buffered past the limit.
func Idempotency(repo idempotencyRepository, maxBody int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				handler.RespondValidationError(w, []handler.FieldError{{Field: idempotencyHeader, Message: "must be at most 255 characters"}})
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					handler.RespondAppError(w, handler.ErrPayloadTooLarge, nil)
					return
				}
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			req := idempotentRequest{
				key:   key,
				route: r.URL.Path,
				hash:  requestFingerprint(r.Method, r.URL.Path, body),
				log:   logging.FromContext(r.Context()).With("idempotency_key", key),
			}

			cached, err := repo.Get(r.Context(), req.key, req.route)
			if err != nil {
				req.log.Error("idempotency cache lookup failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if cached != nil {
				req.replay(w, cached)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.statusCode < http.StatusInternalServerError {
				req.store(r.Context(), repo, rec)
			}
		})
	}
}

type idempotentRequest struct {
	key   string
	route string
	hash  string
	log   *slog.Logger
}

func (q idempotentRequest) replay(w http.ResponseWriter, cached *repository.IdempotencyCacheEntry) {
	if cached.RequestHash != q.hash {
		handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.ResponseBody); err != nil {
		q.log.Error("failed to write idempotent replay", "error", err)
	}
}

func (q idempotentRequest) store(ctx context.Context, repo idempotencyRepository, rec *responseRecorder) {
	now := time.Now().UTC()
	err := repo.Set(ctx, &repository.IdempotencyCacheEntry{
		Key:          q.key,
		Route:        q.route,
		RequestHash:  q.hash,
		StatusCode:   rec.statusCode,
		ResponseBody: rec.body.Bytes(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(idempotencyTTL),
	})
	if err != nil {
		q.log.Error("idempotency cache store failed", "error", err)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func requestFingerprint(method, path string, body []byte) string {
	sum := sha256.Sum256(bytes.Join([][]byte{[]byte(method), []byte(path), body}, []byte{0}))
	return hex.EncodeToString(sum[:])
}

// responseRecorder tees the handler's response so it can be cached.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
