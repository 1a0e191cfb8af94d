package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// O release devolvido é idempotente: chamadas extras são ignoradas.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// SlotUsage é implementado por pools que expõem ocupação (health/diagnóstico).
type SlotUsage interface {
	Cap() int
	InUse() int
}
