package application

import (
	"strings"

	"admission-gateway/middleware/admission/domain"
)

// PolicySource indica de onde veio a política efetiva.
type PolicySource string

const (
	SourceAllowList       PolicySource = "allow-list"
	SourceRule            PolicySource = "rule"
	SourceTierOverride    PolicySource = "tier-override"
	SourceIdentityDefault PolicySource = "identity-default"
	SourceGlobalDefault   PolicySource = "global-default"
)

// Resolution é o resultado detalhado da resolução.
//
// Policy nil significa bypass (não limitar). Rule é o padrão da regra casada, ou vazio.
type Resolution struct {
	Policy *domain.Policy
	Rule   string
	Source PolicySource
}

// PolicyResolver produz uma única política efetiva para endpoint + identidade.
type PolicyResolver struct {
	Store *PolicyStore
}

func (r PolicyResolver) Resolve(endpointPath string, id domain.Identity) *domain.Policy {
	return r.ResolveRule(endpointPath, id).Policy
}

// ResolveRule aplica, em ordem: allow-list, regra de maior prefixo, override de tier,
// default por tipo de identidade e default global. Nunca falha.
func (r PolicyResolver) ResolveRule(endpointPath string, id domain.Identity) Resolution {
	if r.Store == nil {
		p := GlobalDefaultPolicy
		return Resolution{Policy: &p, Source: SourceGlobalDefault}
	}
	s := r.Store

	ip := id.IP
	if ip == "" && id.Type == domain.IdentityIP {
		ip = id.Value
	}
	if s.Allowed(ip) {
		return Resolution{Source: SourceAllowList}
	}

	if rule, ok := matchRule(s.rules, endpointPath); ok {
		base := rule.Policy
		if id.Tier.Valid() {
			if o, ok := rule.TierOverrides[id.Tier]; ok {
				return Resolution{Policy: &o, Rule: rule.Pattern, Source: SourceTierOverride}
			}
		}
		p, src := s.applyGlobalTier(base, id.Tier, SourceRule)
		return Resolution{Policy: &p, Rule: rule.Pattern, Source: src}
	}

	if base, ok := s.identityDefaults[id.Type]; ok {
		p, src := s.applyGlobalTier(base, id.Tier, SourceIdentityDefault)
		return Resolution{Policy: &p, Source: src}
	}

	p, src := s.applyGlobalTier(s.def, id.Tier, SourceGlobalDefault)
	return Resolution{Policy: &p, Source: src}
}

// applyGlobalTier troca a base pelo override global do tier, mas só quando ele relaxa.
func (s *PolicyStore) applyGlobalTier(base domain.Policy, tier domain.Tier, src PolicySource) (domain.Policy, PolicySource) {
	if !tier.Valid() {
		return base, src
	}
	o, ok := s.tierOverrides[tier]
	if !ok || !relaxes(o, base) {
		return base, src
	}
	return o, SourceTierOverride
}

// FindPolicyForEndpoint é o casamento puro por maior prefixo. Retorna nil quando nada casa.
func (s *PolicyStore) FindPolicyForEndpoint(endpointPath string) *domain.Policy {
	rule, ok := matchRule(s.rules, endpointPath)
	if !ok {
		return nil
	}
	p := rule.Policy
	return &p
}

// matchRule escolhe a regra de maior prefixo; o casamento exato conta como o maior possível.
// Empates ficam com a primeira regra declarada.
func matchRule(rules []domain.EndpointRule, path string) (domain.EndpointRule, bool) {
	best := -1
	bestScore := -1
	for i, rule := range rules {
		score := matchScore(rule, path)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return domain.EndpointRule{}, false
	}
	return rules[best], true
}

func matchScore(rule domain.EndpointRule, path string) int {
	if rule.Pattern == path {
		// exato vence qualquer prefixo
		return len(path) + 1
	}
	if rule.Exact || !strings.HasPrefix(path, rule.Pattern) {
		return -1
	}
	// prefixo respeita fronteira de segmento: /api/auth casa /api/auth/x mas não /api/authx
	if strings.HasSuffix(rule.Pattern, "/") || path[len(rule.Pattern)] == '/' {
		return len(rule.Pattern)
	}
	return -1
}

// MergePolicies combina políticas pegando o valor mais restritivo de cada campo.
// Lista vazia retorna o default global. O algoritmo do resultado é o da primeira política.
func MergePolicies(policies []domain.Policy) domain.Policy {
	if len(policies) == 0 {
		return GlobalDefaultPolicy
	}
	if len(policies) == 1 {
		return policies[0]
	}

	out := domain.Policy{
		PerMinute: policies[0].PerMinute,
		Algorithm: policies[0].Algorithm,
	}
	explicitHour, explicitDay, explicitBurst := false, false, false
	for _, p := range policies {
		out.PerMinute = min(out.PerMinute, p.PerMinute)
		explicitHour = explicitHour || p.PerHour > 0
		explicitDay = explicitDay || p.PerDay > 0
		explicitBurst = explicitBurst || p.Burst > 0
	}
	// burst compara capacidades: uma entrada sem burst vale perMinute
	if explicitBurst {
		out.Burst = policies[0].Capacity()
		for _, p := range policies[1:] {
			out.Burst = min(out.Burst, p.Capacity())
		}
	}
	if !out.Algorithm.Valid() {
		out.Algorithm = domain.SlidingWindow
	}

	// janelas só ficam explícitas se alguma entrada as declarou; senão seguem derivadas
	// do perMinute resultante, o que dá o mesmo valor que o mínimo das derivadas.
	if explicitHour {
		out.PerHour = policies[0].Limit(domain.WindowHour)
		for _, p := range policies[1:] {
			out.PerHour = min(out.PerHour, p.Limit(domain.WindowHour))
		}
	}
	if explicitDay {
		out.PerDay = policies[0].Limit(domain.WindowDay)
		for _, p := range policies[1:] {
			out.PerDay = min(out.PerDay, p.Limit(domain.WindowDay))
		}
	}
	return out
}

// GetEffectiveLimit retorna o limite da janela, derivando quando ausente.
func GetEffectiveLimit(p domain.Policy, w domain.Window) int {
	return p.Limit(w)
}

// IsValidPolicy protege qualquer política vinda de fora antes de ser instalada.
func IsValidPolicy(p domain.Policy) bool {
	return p.IsValid()
}
