package domain

import (
	"fmt"
	"time"
)

type Algorithm string

const (
	SlidingWindow Algorithm = "sliding-window"
	TokenBucket   Algorithm = "token-bucket"
)

func (a Algorithm) Valid() bool {
	return a == SlidingWindow || a == TokenBucket
}

type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Windows lista as janelas da mais fina para a mais grossa.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

func (w Window) Duration() time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Policy é um objeto de valor imutável com as cotas aplicadas a um par identidade/endpoint.
//
// PerHour e PerDay iguais a zero significam "derivado" (perMinute*60 e perHour*24).
// Burst igual a zero significa ausente: a capacidade do token bucket passa a ser PerMinute.
type Policy struct {
	PerMinute int       `json:"perMinute"`
	PerHour   int       `json:"perHour,omitempty"`
	PerDay    int       `json:"perDay,omitempty"`
	Burst     int       `json:"burst,omitempty"`
	Algorithm Algorithm `json:"algorithm"`
}

// Limit retorna o limite efetivo para a janela, derivando as janelas ausentes.
func (p Policy) Limit(w Window) int {
	switch w {
	case WindowHour:
		if p.PerHour > 0 {
			return p.PerHour
		}
		return p.PerMinute * 60
	case WindowDay:
		if p.PerDay > 0 {
			return p.PerDay
		}
		return p.Limit(WindowHour) * 24
	default:
		return p.PerMinute
	}
}

// Capacity é a capacidade do token bucket.
func (p Policy) Capacity() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.PerMinute
}

// Validate retorna ErrInvalidPolicy (com o motivo) quando a política viola seus invariantes.
func (p Policy) Validate() error {
	switch {
	case p.PerMinute <= 0:
		return fmt.Errorf("%w: perMinute must be > 0, got %d", ErrInvalidPolicy, p.PerMinute)
	case p.PerHour < 0 || p.PerDay < 0 || p.Burst < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidPolicy)
	case p.PerHour > 0 && p.PerHour < p.PerMinute:
		return fmt.Errorf("%w: perHour %d < perMinute %d", ErrInvalidPolicy, p.PerHour, p.PerMinute)
	case p.PerDay > 0 && p.PerDay < p.Limit(WindowHour):
		// perHour ausente compara com o derivado (perMinute*60)
		return fmt.Errorf("%w: perDay %d < perHour %d", ErrInvalidPolicy, p.PerDay, p.Limit(WindowHour))
	case !p.Algorithm.Valid():
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidPolicy, p.Algorithm)
	}
	return nil
}

func (p Policy) IsValid() bool { return p.Validate() == nil }

// EndpointRule associa um padrão de endpoint (exato ou prefixo) a uma política.
//
// TierOverrides substitui a política base para o tier do chamador; só pode relaxar limites.
type EndpointRule struct {
	Pattern       string          `json:"pattern"`
	Exact         bool            `json:"exact,omitempty"`
	Policy        Policy          `json:"policy"`
	TierOverrides map[Tier]Policy `json:"tierOverrides,omitempty"`
}
