package domain

import "time"

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// Gate é a decisão do circuit breaker antes de chamar a dependência.
//
// Generation identifica o estado em que a chamada foi admitida; o resultado da chamada
// é reportado com o mesmo Gate e descartado se o breaker já tiver mudado de estado.
type Gate struct {
	Allow      bool
	State      BreakerState
	Generation uint64
}

// BreakerSnapshot é uma cópia do estado de um breaker (para health/diagnóstico).
type BreakerSnapshot struct {
	DependencyID        string       `json:"dependency"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	FailureTimestamps   []time.Time  `json:"failureTimestamps,omitempty"`
	OpenedAt            time.Time    `json:"openedAt"`
	HalfOpenSuccesses   int          `json:"halfOpenSuccesses"`
}

// BreakerEvent é emitido a cada transição de estado.
type BreakerEvent struct {
	DependencyID string
	From         BreakerState
	To           BreakerState
	At           time.Time
}
