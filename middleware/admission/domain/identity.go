package domain

import "strings"

type IdentityType string

const (
	IdentityAPIKey IdentityType = "apiKey"
	IdentityUser   IdentityType = "user"
	IdentityIP     IdentityType = "ip"
)

// UnknownIP é o valor usado quando nenhum IP pôde ser resolvido.
const UnknownIP = "unknown"

// Tier é o plano do chamador. O valor vazio significa "sem tier".
type Tier string

const (
	TierNone       Tier = ""
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// Identity é a referência resolvida do chamador, usada como chave do rate limit.
//
// IP é sempre preenchido (mesmo para apiKey/user) para permitir allow-list por IP.
type Identity struct {
	Type  IdentityType
	Value string
	Tier  Tier
	IP    string
}

// Key é a forma canônica usada para compor chaves de contadores.
func (id Identity) Key() string {
	return string(id.Type) + ":" + id.Value
}

// Principal é um usuário autenticado e já verificado pela camada chamadora.
type Principal struct {
	UserID string
	Tier   Tier
}

// RequestDescriptor descreve uma requisição de forma agnóstica de transporte.
type RequestDescriptor struct {
	Path        string
	Headers     map[string]string
	PeerAddress string
	Principal   *Principal
}

// Header busca um header ignorando maiúsculas/minúsculas.
func (r RequestDescriptor) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
