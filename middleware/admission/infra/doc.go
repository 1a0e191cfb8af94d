// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore: contadores por chave em memória; token bucket via golang.org/x/time/rate
//   - RedisCounterStore: contadores compartilhados entre processos (go-redis + Lua)
//   - MemoryStatsStore / RedisStatsStore / OTelStatsStore: destinos das estatísticas
//   - ChanPool: semáforo simples para limite de concorrência
package infra
