// Package domain define contratos e tipos de domínio para o controle de admissão:
// identidade do chamador, políticas de rate limit, decisões e estado de circuit breaker.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
