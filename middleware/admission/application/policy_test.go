package application

import (
	"testing"

	"admission-gateway/middleware/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	loginPolicy = domain.Policy{PerMinute: 5, PerHour: 20, Algorithm: domain.SlidingWindow}
	authPolicy  = domain.Policy{PerMinute: 10, Algorithm: domain.SlidingWindow}
	aiPolicy    = domain.Policy{PerMinute: 10, Burst: 5, Algorithm: domain.TokenBucket}
	aiPremium   = domain.Policy{PerMinute: 30, Burst: 15, Algorithm: domain.TokenBucket}
	ipDefault   = domain.Policy{PerMinute: 20, Algorithm: domain.SlidingWindow}
	userDefault = domain.Policy{PerMinute: 100, Algorithm: domain.SlidingWindow}
)

func newTestPolicyStore(t *testing.T) *PolicyStore {
	t.Helper()
	s, err := NewPolicyStore(PolicyConfig{
		Rules: []domain.EndpointRule{
			{Pattern: "/api/auth", Policy: authPolicy},
			{Pattern: "/api/auth/login", Policy: loginPolicy},
			{Pattern: "/api/ai", Policy: aiPolicy, TierOverrides: map[domain.Tier]domain.Policy{domain.TierPremium: aiPremium}},
			{Pattern: "/api/status", Exact: true, Policy: userDefault},
		},
		TierOverrides: map[domain.Tier]domain.Policy{
			domain.TierEnterprise: {PerMinute: 50, Algorithm: domain.SlidingWindow},
		},
		IdentityDefaults: map[domain.IdentityType]domain.Policy{
			domain.IdentityIP:   ipDefault,
			domain.IdentityUser: userDefault,
		},
		Default:   GlobalDefaultPolicy,
		AllowList: []string{"203.0.113.7", "198.51.100.0/24"},
	})
	require.NoError(t, err)
	return s
}

func TestIsValidPolicy(t *testing.T) {
	cases := []struct {
		name string
		p    domain.Policy
		want bool
	}{
		{"minimal", domain.Policy{PerMinute: 1, Algorithm: domain.SlidingWindow}, true},
		{"full", domain.Policy{PerMinute: 10, PerHour: 100, PerDay: 1000, Burst: 20, Algorithm: domain.TokenBucket}, true},
		{"equal windows", domain.Policy{PerMinute: 10, PerHour: 10, PerDay: 10, Algorithm: domain.SlidingWindow}, true},
		{"zero per minute", domain.Policy{PerMinute: 0, Algorithm: domain.SlidingWindow}, false},
		{"negative per minute", domain.Policy{PerMinute: -1, Algorithm: domain.SlidingWindow}, false},
		{"hour below minute", domain.Policy{PerMinute: 10, PerHour: 5, Algorithm: domain.SlidingWindow}, false},
		{"day below hour", domain.Policy{PerMinute: 10, PerHour: 100, PerDay: 50, Algorithm: domain.SlidingWindow}, false},
		{"day below minute", domain.Policy{PerMinute: 10, PerDay: 5, Algorithm: domain.SlidingWindow}, false},
		{"day below derived hour", domain.Policy{PerMinute: 10, PerDay: 100, Algorithm: domain.SlidingWindow}, false},
		{"day at derived hour", domain.Policy{PerMinute: 10, PerDay: 600, Algorithm: domain.SlidingWindow}, true},
		{"unknown algorithm", domain.Policy{PerMinute: 10, Algorithm: "leaky-bucket"}, false},
		{"missing algorithm", domain.Policy{PerMinute: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsValidPolicy(tc.p))
		})
	}
}

func TestGetEffectiveLimit_Derivation(t *testing.T) {
	p := domain.Policy{PerMinute: 10, Algorithm: domain.SlidingWindow}
	assert.Equal(t, 10, GetEffectiveLimit(p, domain.WindowMinute))
	assert.Equal(t, 600, GetEffectiveLimit(p, domain.WindowHour))
	assert.Equal(t, 14400, GetEffectiveLimit(p, domain.WindowDay))

	p.PerHour = 100
	assert.Equal(t, 2400, GetEffectiveLimit(p, domain.WindowDay))
	p.PerDay = 500
	assert.Equal(t, 500, GetEffectiveLimit(p, domain.WindowDay))
}

func TestMergePolicies(t *testing.T) {
	t.Run("empty returns global default", func(t *testing.T) {
		got := MergePolicies(nil)
		assert.Equal(t, GlobalDefaultPolicy, got)
		assert.True(t, IsValidPolicy(got))
	})

	t.Run("single is identity", func(t *testing.T) {
		assert.Equal(t, aiPolicy, MergePolicies([]domain.Policy{aiPolicy}))
	})

	t.Run("takes minimum per field", func(t *testing.T) {
		p1 := domain.Policy{PerMinute: 10, PerHour: 300, Burst: 8, Algorithm: domain.TokenBucket}
		p2 := domain.Policy{PerMinute: 20, PerHour: 200, PerDay: 1000, Algorithm: domain.SlidingWindow}
		got := MergePolicies([]domain.Policy{p1, p2})
		assert.Equal(t, 10, got.PerMinute)
		assert.Equal(t, 200, got.PerHour)
		// p1 deriva 300*24 = 7200 por dia; p2 declara 1000
		assert.Equal(t, 1000, got.PerDay)
		assert.Equal(t, 8, got.Burst)
		assert.True(t, got.Algorithm.Valid())
		assert.True(t, IsValidPolicy(got))
	})

	t.Run("burst merges on capacity", func(t *testing.T) {
		// p1 sem burst tem capacidade 10; o merge não pode aceitar mais que isso de uma vez
		p1 := domain.Policy{PerMinute: 10, Algorithm: domain.TokenBucket}
		p2 := domain.Policy{PerMinute: 100, Burst: 50, Algorithm: domain.TokenBucket}
		got := MergePolicies([]domain.Policy{p1, p2})
		assert.Equal(t, 10, got.Capacity())
		assert.LessOrEqual(t, got.Capacity(), p1.Capacity())
		assert.LessOrEqual(t, got.Capacity(), p2.Capacity())

		got = MergePolicies([]domain.Policy{p2, p1})
		assert.Equal(t, 10, got.Capacity(), "order must not matter")
	})

	t.Run("derived windows stay consistent", func(t *testing.T) {
		p1 := domain.Policy{PerMinute: 10, Algorithm: domain.SlidingWindow}
		p2 := domain.Policy{PerMinute: 4, Algorithm: domain.SlidingWindow}
		got := MergePolicies([]domain.Policy{p1, p2})
		assert.Equal(t, 4, got.PerMinute)
		assert.Equal(t, 240, GetEffectiveLimit(got, domain.WindowHour))
		assert.Equal(t, 240*24, GetEffectiveLimit(got, domain.WindowDay))
	})
}

func TestFindPolicyForEndpoint(t *testing.T) {
	s := newTestPolicyStore(t)

	login := s.FindPolicyForEndpoint("/api/auth/login")
	require.NotNil(t, login)
	assert.Equal(t, loginPolicy, *login)

	callback := s.FindPolicyForEndpoint("/api/auth/login/callback")
	require.NotNil(t, callback)
	assert.Equal(t, *login, *callback)

	// /api/auth foi declarado antes, mas o prefixo mais longo vence
	other := s.FindPolicyForEndpoint("/api/auth/logout")
	require.NotNil(t, other)
	assert.Equal(t, authPolicy, *other)

	assert.Nil(t, s.FindPolicyForEndpoint("/api/authx"), "prefix must respect segment boundary")
	assert.Nil(t, s.FindPolicyForEndpoint("/api/status/deep"), "exact rule must not match as prefix")
	assert.NotNil(t, s.FindPolicyForEndpoint("/api/status"))
	assert.Nil(t, s.FindPolicyForEndpoint("/unknown"))
}

func TestFindPolicyForEndpoint_TieKeepsFirstDeclared(t *testing.T) {
	first := domain.Policy{PerMinute: 1, Algorithm: domain.SlidingWindow}
	second := domain.Policy{PerMinute: 2, Algorithm: domain.SlidingWindow}
	s, err := NewPolicyStore(PolicyConfig{
		Rules: []domain.EndpointRule{
			{Pattern: "/api/x", Policy: first},
			{Pattern: "/api/x", Policy: second},
		},
		Default: GlobalDefaultPolicy,
	})
	require.NoError(t, err)

	got := s.FindPolicyForEndpoint("/api/x/y")
	require.NotNil(t, got)
	assert.Equal(t, first, *got)
}

func TestPolicyResolver_Resolve(t *testing.T) {
	r := PolicyResolver{Store: newTestPolicyStore(t)}

	ipID := domain.Identity{Type: domain.IdentityIP, Value: "8.8.8.8", IP: "8.8.8.8"}
	userID := domain.Identity{Type: domain.IdentityUser, Value: "u1", IP: "8.8.8.8"}
	keyID := domain.Identity{Type: domain.IdentityAPIKey, Value: "k", IP: "8.8.8.8"}

	t.Run("allow-listed ip bypasses", func(t *testing.T) {
		res := r.ResolveRule("/api/auth/login", domain.Identity{Type: domain.IdentityAPIKey, Value: "k", IP: "203.0.113.7"})
		assert.Nil(t, res.Policy)
		assert.Equal(t, SourceAllowList, res.Source)
		assert.Nil(t, r.Resolve("/x", domain.Identity{Type: domain.IdentityIP, Value: "198.51.100.20"}))
	})

	t.Run("rule match", func(t *testing.T) {
		res := r.ResolveRule("/api/auth/login/callback", ipID)
		require.NotNil(t, res.Policy)
		assert.Equal(t, loginPolicy, *res.Policy)
		assert.Equal(t, "/api/auth/login", res.Rule)
		assert.Equal(t, SourceRule, res.Source)
	})

	t.Run("rule tier override relaxes", func(t *testing.T) {
		premium := userID
		premium.Tier = domain.TierPremium
		res := r.ResolveRule("/api/ai/chat", premium)
		require.NotNil(t, res.Policy)
		assert.Equal(t, aiPremium, *res.Policy)
		assert.Equal(t, SourceTierOverride, res.Source)
	})

	t.Run("global tier override applies only when it relaxes", func(t *testing.T) {
		ent := userID
		ent.Tier = domain.TierEnterprise
		// regra /api/auth (10/min) < override global (50/min): relaxa
		got := r.Resolve("/api/auth/me", ent)
		require.NotNil(t, got)
		assert.Equal(t, 50, got.PerMinute)

		// default de usuário (100/min) > override global (50/min): mantém a base
		got = r.Resolve("/other", ent)
		require.NotNil(t, got)
		assert.Equal(t, userDefault, *got)
	})

	t.Run("identity type defaults", func(t *testing.T) {
		got := r.Resolve("/other", ipID)
		require.NotNil(t, got)
		assert.Equal(t, ipDefault, *got)

		got = r.Resolve("/other", userID)
		require.NotNil(t, got)
		assert.Equal(t, userDefault, *got)
		assert.Less(t, ipDefault.PerMinute, userDefault.PerMinute)
	})

	t.Run("global default as last resort", func(t *testing.T) {
		res := r.ResolveRule("/other", keyID)
		require.NotNil(t, res.Policy)
		assert.Equal(t, GlobalDefaultPolicy, *res.Policy)
		assert.Equal(t, SourceGlobalDefault, res.Source)
	})
}

func TestNewPolicyStore_RejectsInvalidConfiguration(t *testing.T) {
	valid := domain.Policy{PerMinute: 10, Algorithm: domain.SlidingWindow}

	cases := []struct {
		name string
		cfg  PolicyConfig
		want error
	}{
		{"invalid default", PolicyConfig{Default: domain.Policy{}}, domain.ErrInvalidPolicy},
		{"invalid rule policy", PolicyConfig{Default: valid, Rules: []domain.EndpointRule{{Pattern: "/x", Policy: domain.Policy{PerMinute: 10, PerHour: 1, Algorithm: domain.SlidingWindow}}}}, domain.ErrInvalidPolicy},
		{"empty pattern", PolicyConfig{Default: valid, Rules: []domain.EndpointRule{{Pattern: " ", Policy: valid}}}, domain.ErrInvalidRule},
		{"tightening override", PolicyConfig{Default: valid, Rules: []domain.EndpointRule{{
			Pattern:       "/x",
			Policy:        valid,
			TierOverrides: map[domain.Tier]domain.Policy{domain.TierPremium: {PerMinute: 5, Algorithm: domain.SlidingWindow}},
		}}}, domain.ErrTierTightens},
		{"unknown tier", PolicyConfig{Default: valid, TierOverrides: map[domain.Tier]domain.Policy{"gold": valid}}, domain.ErrInvalidPolicy},
		{"unknown identity type", PolicyConfig{Default: valid, IdentityDefaults: map[domain.IdentityType]domain.Policy{"device": valid}}, domain.ErrInvalidPolicy},
		{"bad allow-list entry", PolicyConfig{Default: valid, AllowList: []string{"10.0.0.0/99"}}, domain.ErrInvalidRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPolicyStore(tc.cfg)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDefaultPolicyConfig_IsValid(t *testing.T) {
	s, err := NewPolicyStore(DefaultPolicyConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, s.Rules())
}
