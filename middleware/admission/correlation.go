package admission

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestID reaproveita o X-Request-ID recebido (ou já gerado nesta requisição)
// e, na falta dele, gera um UUID novo.
func RequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderRequestID)); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// CorrelationMiddleware fixa o id da requisição no contexto e no header de resposta.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := RequestID(r)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// withRequestID garante que a requisição tenha um id mesmo sem CorrelationMiddleware.
func withRequestID(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok && id != "" {
		return r, id
	}
	id := RequestID(r)
	w.Header().Set(HeaderRequestID, id)
	return r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)), id
}
