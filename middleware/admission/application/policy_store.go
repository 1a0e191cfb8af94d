package application

import (
	"fmt"
	"net/netip"
	"strings"

	"admission-gateway/middleware/admission/domain"
)

// PolicyConfig é a tabela de políticas como chega da configuração.
type PolicyConfig struct {
	Rules            []domain.EndpointRule                  `json:"rules"`
	TierOverrides    map[domain.Tier]domain.Policy          `json:"tierOverrides,omitempty"`
	IdentityDefaults map[domain.IdentityType]domain.Policy `json:"identityDefaults,omitempty"`
	Default          domain.Policy                          `json:"default"`
	AllowList        []string                               `json:"allowList,omitempty"`
}

// PolicyStore é a tabela validada e imutável consultada pelo PolicyResolver.
type PolicyStore struct {
	rules            []domain.EndpointRule
	tierOverrides    map[domain.Tier]domain.Policy
	identityDefaults map[domain.IdentityType]domain.Policy
	def              domain.Policy
	allow            []netip.Prefix
}

// NewPolicyStore valida toda política da configuração e falha no primeiro erro.
// Nenhuma política inválida é corrigida silenciosamente.
func NewPolicyStore(cfg PolicyConfig) (*PolicyStore, error) {
	if err := cfg.Default.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	s := &PolicyStore{
		rules:            make([]domain.EndpointRule, 0, len(cfg.Rules)),
		tierOverrides:    make(map[domain.Tier]domain.Policy, len(cfg.TierOverrides)),
		identityDefaults: make(map[domain.IdentityType]domain.Policy, len(cfg.IdentityDefaults)),
		def:              cfg.Default,
	}

	for i, rule := range cfg.Rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("%w: rule %d has an empty pattern", domain.ErrInvalidRule, i)
		}
		if err := rule.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Pattern, err)
		}
		overrides := make(map[domain.Tier]domain.Policy, len(rule.TierOverrides))
		for tier, p := range rule.TierOverrides {
			if err := validateOverride(tier, p, rule.Policy); err != nil {
				return nil, fmt.Errorf("rule %q: %w", rule.Pattern, err)
			}
			overrides[tier] = p
		}
		rule.TierOverrides = overrides
		s.rules = append(s.rules, rule)
	}

	for tier, p := range cfg.TierOverrides {
		if !tier.Valid() {
			return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidPolicy, tier)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("tier %q: %w", tier, err)
		}
		s.tierOverrides[tier] = p
	}

	for typ, p := range cfg.IdentityDefaults {
		switch typ {
		case domain.IdentityAPIKey, domain.IdentityUser, domain.IdentityIP:
		default:
			return nil, fmt.Errorf("%w: unknown identity type %q", domain.ErrInvalidPolicy, typ)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("identity default %q: %w", typ, err)
		}
		s.identityDefaults[typ] = p
	}

	for _, raw := range cfg.AllowList {
		p, err := parseAllowEntry(raw)
		if err != nil {
			return nil, err
		}
		s.allow = append(s.allow, p)
	}

	return s, nil
}

func validateOverride(tier domain.Tier, p, base domain.Policy) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidPolicy, tier)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("tier %q: %w", tier, err)
	}
	if !relaxes(p, base) {
		return fmt.Errorf("%w: tier %q perMinute %d < base %d", domain.ErrTierTightens, tier, p.PerMinute, base.PerMinute)
	}
	return nil
}

func relaxes(override, base domain.Policy) bool {
	return override.PerMinute >= base.PerMinute
}

func parseAllowEntry(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: allow-list entry %q: %v", domain.ErrInvalidRule, raw, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: allow-list entry %q: %v", domain.ErrInvalidRule, raw, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Rules devolve uma cópia das regras na ordem de declaração.
func (s *PolicyStore) Rules() []domain.EndpointRule {
	out := make([]domain.EndpointRule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *PolicyStore) Default() domain.Policy { return s.def }

func (s *PolicyStore) Allowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// DefaultPolicyConfig é a tabela embutida usada quando nenhum arquivo é fornecido.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Rules: []domain.EndpointRule{
			{Pattern: "/api/auth/login", Policy: domain.Policy{PerMinute: 5, PerHour: 20, PerDay: 100, Algorithm: domain.SlidingWindow}},
			{Pattern: "/api/auth/register", Policy: domain.Policy{PerMinute: 3, PerHour: 10, PerDay: 20, Algorithm: domain.SlidingWindow}},
			{Pattern: "/api/auth", Policy: domain.Policy{PerMinute: 10, PerHour: 100, Algorithm: domain.SlidingWindow}},
			{
				Pattern: "/api/ai",
				Policy:  domain.Policy{PerMinute: 10, PerHour: 200, PerDay: 1000, Burst: 5, Algorithm: domain.TokenBucket},
				TierOverrides: map[domain.Tier]domain.Policy{
					domain.TierPremium:    {PerMinute: 30, PerHour: 1000, PerDay: 5000, Burst: 15, Algorithm: domain.TokenBucket},
					domain.TierEnterprise: {PerMinute: 100, PerHour: 5000, PerDay: 50000, Burst: 50, Algorithm: domain.TokenBucket},
				},
			},
			{Pattern: "/api/webhooks/", Policy: domain.Policy{PerMinute: 300, Burst: 100, Algorithm: domain.TokenBucket}},
		},
		TierOverrides: map[domain.Tier]domain.Policy{
			domain.TierPremium:    {PerMinute: 300, PerHour: 10000, Algorithm: domain.SlidingWindow},
			domain.TierEnterprise: {PerMinute: 1000, PerHour: 50000, Algorithm: domain.SlidingWindow},
		},
		IdentityDefaults: map[domain.IdentityType]domain.Policy{
			domain.IdentityIP:     {PerMinute: 30, PerHour: 500, PerDay: 2000, Algorithm: domain.SlidingWindow},
			domain.IdentityUser:   {PerMinute: 100, PerHour: 2000, Algorithm: domain.SlidingWindow},
			domain.IdentityAPIKey: {PerMinute: 120, PerHour: 5000, Algorithm: domain.SlidingWindow},
		},
		Default: GlobalDefaultPolicy,
	}
}

// GlobalDefaultPolicy é o último recurso da resolução e o resultado de MergePolicies(nil).
var GlobalDefaultPolicy = domain.Policy{PerMinute: 60, PerHour: 1000, PerDay: 10000, Algorithm: domain.SlidingWindow}
