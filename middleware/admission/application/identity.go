package application

import (
	"net"
	"net/netip"
	"strings"

	"admission-gateway/middleware/admission/domain"
)

const (
	DefaultAPIKeyHeader = "X-API-Key"

	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
	headerCDNClientIP  = "CF-Connecting-IP"
)

// IdentityResolver extrai a identidade do chamador de um RequestDescriptor.
//
// Precedência: API key → usuário autenticado → IP.
type IdentityResolver struct {
	// APIKeyHeader é o header da API key. Vazio usa DefaultAPIKeyHeader.
	APIKeyHeader string
	// IgnoreProxyHeaders faz o resolver usar apenas o endereço de transporte.
	IgnoreProxyHeaders bool
	// APIKeyTier resolve o tier de uma API key (opcional).
	APIKeyTier func(apiKey string) domain.Tier
}

func (r IdentityResolver) Resolve(req domain.RequestDescriptor) domain.Identity {
	ip := r.ClientIP(req)

	header := r.APIKeyHeader
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	if key := strings.TrimSpace(req.Header(header)); key != "" {
		id := domain.Identity{Type: domain.IdentityAPIKey, Value: key, IP: ip}
		if r.APIKeyTier != nil {
			id.Tier = r.APIKeyTier(key)
		}
		return id
	}

	if p := req.Principal; p != nil && strings.TrimSpace(p.UserID) != "" {
		return domain.Identity{Type: domain.IdentityUser, Value: strings.TrimSpace(p.UserID), Tier: p.Tier, IP: ip}
	}

	return domain.Identity{Type: domain.IdentityIP, Value: ip, IP: ip}
}

// ClientIP aplica a precedência de extração de IP. Candidatos inválidos são ignorados;
// se nada resolver, retorna domain.UnknownIP.
func (r IdentityResolver) ClientIP(req domain.RequestDescriptor) string {
	if !r.IgnoreProxyHeaders {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := req.Header(headerForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); IsValidIP(ip) {
				return ip
			}
		}
		for _, h := range []string{headerRealIP, headerCDNClientIP} {
			if ip := strings.TrimSpace(req.Header(h)); IsValidIP(ip) {
				return ip
			}
		}
	}

	peer := strings.TrimSpace(req.PeerAddress)
	if host, _, err := net.SplitHostPort(peer); err == nil && IsValidIP(host) {
		return host
	}
	if IsValidIP(peer) {
		return peer
	}
	return domain.UnknownIP
}

// IsValidIP aceita IPv4 (quatro octetos) e IPv6 (inclusive com compressão "::").
// Zonas ("fe80::1%eth0") e qualquer outra coisa, incluindo "unknown", são rejeitadas.
func IsValidIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return addr.Zone() == ""
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// IsPrivateIP retorna true para faixas RFC1918 e loopback IPv4.
func IsPrivateIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// SanitizeIdentity renderiza a identidade para logs sem expor segredos.
//
//	apiKey → "apiKey:abcd1234..."
//	user   → "user:<id>"
//	ip     → "192.168.1.xxx"
func SanitizeIdentity(id domain.Identity) string {
	switch id.Type {
	case domain.IdentityAPIKey:
		// chaves curtas não têm prefixo seguro para exibir
		if len(id.Value) <= 8 {
			return "apiKey:..."
		}
		return "apiKey:" + id.Value[:8] + "..."
	case domain.IdentityUser:
		return "user:" + id.Value
	default:
		return maskIP(id.Value)
	}
}

func maskIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return domain.UnknownIP
	}
	if addr.Is4() {
		i := strings.LastIndexByte(ip, '.')
		return ip[:i+1] + "xxx"
	}
	s := addr.String()
	i := strings.LastIndexByte(s, ':')
	return s[:i+1] + "xxxx"
}
