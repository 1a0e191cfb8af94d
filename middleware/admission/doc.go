// Package admission fornece adapters HTTP (net/http) para o controle de admissão:
// rate limit, circuit breaker e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (identidade, política, decisão allow/deny, breaker) sem net/http
//   - infra: implementações concretas (contadores em memória/Redis, stats, semáforo)
//   - admission (este pacote): middlewares HTTP + extração do descritor + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Monta o RequestDescriptor (path, headers, peer, principal) e resolve a identidade
//  2. Resolve a política efetiva e chama o Limiter
//  3. Se negado, responde 429 com X-RateLimit-* e Retry-After
//  4. Se a rota chama uma dependência protegida, consulta o breaker; aberto responde 503
//  5. Se permitido, chama o próximo handler (ex: reverse proxy) e reporta o resultado ao breaker
//
// Toda resposta de erro leva um X-Request-ID para correlação.
package admission
