package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Decision é o resultado de uma checagem de admissão.
//
// Unlimited indica que nenhuma política foi aplicada (bypass ou camada desligada);
// nesse caso Limit/Remaining/ResetAt não têm significado.
type Decision struct {
	Allowed   bool
	Unlimited bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Window é a janela que determinou Limit/Remaining (a mais restritiva).
	Window Window
}

// WindowCount é o resultado de um incremento de contador de janela fixa.
type WindowCount struct {
	Count int64
}

// BucketResult é o resultado de uma retirada de token.
type BucketResult struct {
	Allowed bool
	Tokens  float64
}

// CounterStore guarda o estado dos contadores por chave (identidade × endpoint × janela).
//
// Cada operação é um read-modify-write atômico por chave. Implementações remotas
// devem respeitar o deadline do ctx.
type CounterStore interface {
	// IncrementWindow incrementa o contador da janela que começa em windowStart
	// e retorna o valor após o incremento.
	IncrementWindow(ctx context.Context, key string, windowStart time.Time, window time.Duration) (WindowCount, error)
	// TakeToken aplica o refill preguiçoso e tenta retirar um token.
	// ratePerSec é a taxa de reposição; capacity o tamanho máximo do bucket.
	TakeToken(ctx context.Context, key string, capacity int, ratePerSec float64, now time.Time) (BucketResult, error)
}
