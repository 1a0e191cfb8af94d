// Package application contém os casos de uso do controle de admissão:
// resolução de identidade e de política, rate limit (sliding window e token bucket),
// circuit breaker e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Limiter.Check(ctx, scope, identity, policy) retorna uma Decision (allow/deny + headers).
package application
