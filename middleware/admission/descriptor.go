package admission

import (
	"context"
	"net/http"
	"strings"

	"admission-gateway/middleware/admission/domain"
)

// PrincipalFunc devolve o usuário autenticado anexado à requisição, ou nil.
type PrincipalFunc func(r *http.Request) *domain.Principal

type principalKey struct{}

// WithPrincipal anexa um principal verificado ao contexto (feito pela camada de autenticação).
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext é o PrincipalFunc padrão.
func PrincipalFromContext(r *http.Request) *domain.Principal {
	p, _ := r.Context().Value(principalKey{}).(*domain.Principal)
	return p
}

// Descriptor converte a requisição HTTP no descritor agnóstico de transporte.
// Headers repetidos são unidos com ", " (como o X-Forwarded-For em várias linhas).
func Descriptor(r *http.Request, principal PrincipalFunc) domain.RequestDescriptor {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	d := domain.RequestDescriptor{
		Path:        r.URL.Path,
		Headers:     headers,
		PeerAddress: r.RemoteAddr,
	}
	if principal != nil {
		d.Principal = principal(r)
	}
	return d
}
