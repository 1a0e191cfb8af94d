package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/sirupsen/logrus"
)

// BreakerConfig define os limiares do circuit breaker. Campos zerados usam os defaults.
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	// HalfOpenMaxProbes limita as sondas simultâneas em half-open. Padrão: SuccessThreshold.
	HalfOpenMaxProbes int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = def.FailureWindow
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = c.SuccessThreshold
	}
	return c
}

// BreakerOptions são as dependências comuns a todos os breakers de um registro.
type BreakerOptions struct {
	Config BreakerConfig
	// Disabled faz todo gate retornar allow sem alterar estado.
	Disabled bool
	Stats    domain.StatsStore
	Now      func() time.Time
	Log      logrus.FieldLogger
}

// Breaker protege uma única dependência.
type Breaker struct {
	id   string
	cfg  BreakerConfig
	opts BreakerOptions

	mu                  sync.Mutex
	state               domain.BreakerState
	consecutiveFailures int
	failures            []time.Time
	openedAt            time.Time
	halfOpenSuccesses   int
	probes              int
	// generation avança a cada transição
	generation uint64
}

func NewBreaker(dependencyID string, opts BreakerOptions) *Breaker {
	return &Breaker{
		id:    dependencyID,
		cfg:   opts.Config.withDefaults(),
		opts:  opts,
		state: domain.StateClosed,
	}
}

func (b *Breaker) DependencyID() string { return b.id }

// Allow é o gate consultado antes da chamada. Em half-open, só libera até
// HalfOpenMaxProbes sondas sem resultado registrado.
func (b *Breaker) Allow() domain.Gate {
	if b.opts.Disabled {
		return domain.Gate{Allow: true, State: domain.StateClosed}
	}

	b.mu.Lock()
	ev := b.advance(b.now())
	gate := domain.Gate{State: b.state, Generation: b.generation}
	switch b.state {
	case domain.StateClosed:
		gate.Allow = true
	case domain.StateHalfOpen:
		if b.probes < b.cfg.HalfOpenMaxProbes {
			b.probes++
			gate.Allow = true
		}
	}
	b.mu.Unlock()

	b.emit(ev)
	return gate
}

// State retorna o estado atual, aplicando a transição por tempo open → half-open.
func (b *Breaker) State() domain.BreakerState {
	if b.opts.Disabled {
		return domain.StateClosed
	}
	b.mu.Lock()
	ev := b.advance(b.now())
	st := b.state
	b.mu.Unlock()
	b.emit(ev)
	return st
}

// RecordSuccess reporta o sucesso da chamada admitida por gate.
func (b *Breaker) RecordSuccess(gate domain.Gate) {
	if b.opts.Disabled || !gate.Allow {
		return
	}
	b.mu.Lock()
	var ev *domain.BreakerEvent
	if !b.current(gate) {
		b.mu.Unlock()
		return
	}
	switch b.state {
	case domain.StateClosed:
		b.consecutiveFailures = 0
		b.failures = b.failures[:0]
	case domain.StateHalfOpen:
		b.releaseProbe()
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			ev = b.transition(domain.StateClosed, b.now())
		}
	}
	b.mu.Unlock()
	b.emit(ev)
}

// RecordFailure reporta a falha da chamada admitida por gate.
func (b *Breaker) RecordFailure(gate domain.Gate) {
	if b.opts.Disabled || !gate.Allow {
		return
	}
	now := b.now()
	b.mu.Lock()
	var ev *domain.BreakerEvent
	if !b.current(gate) {
		b.mu.Unlock()
		return
	}
	switch b.state {
	case domain.StateClosed:
		b.failures = append(b.failures, now)
		b.prune(now)
		b.consecutiveFailures = len(b.failures)
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			ev = b.transition(domain.StateOpen, now)
		}
	case domain.StateHalfOpen:
		b.releaseProbe()
		ev = b.transition(domain.StateOpen, now)
	}
	b.mu.Unlock()
	b.emit(ev)
}

// Execute chama fn se o gate permitir, registra o resultado e devolve o erro de fn.
// Com o circuito aberto retorna domain.ErrCircuitOpen sem chamar fn.
// Panic em fn conta como falha e segue adiante.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) (err error) {
	gate := b.Allow()
	if !gate.Allow {
		return domain.ErrCircuitOpen
	}

	completed := false
	defer func() {
		if !completed || err != nil {
			b.RecordFailure(gate)
		} else {
			b.RecordSuccess(gate)
		}
	}()
	err = fn(ctx)
	completed = true
	return err
}

func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := make([]time.Time, len(b.failures))
	copy(ts, b.failures)
	return domain.BreakerSnapshot{
		DependencyID:        b.id,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailureTimestamps:   ts,
		OpenedAt:            b.openedAt,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
	}
}

// advance aplica open → half-open quando recoveryTimeout já passou. Exige b.mu.
func (b *Breaker) advance(now time.Time) *domain.BreakerEvent {
	if b.state == domain.StateOpen && !now.Before(b.openedAt.Add(b.cfg.RecoveryTimeout)) {
		return b.transition(domain.StateHalfOpen, now)
	}
	return nil
}

// prune descarta falhas fora da janela. Exige b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	b.failures = append(b.failures[:0], b.failures[i:]...)
}

// current diz se o resultado do gate ainda vale para o estado atual. Em half-open só
// contam sondas em andamento. Exige b.mu.
func (b *Breaker) current(gate domain.Gate) bool {
	if gate.Generation != b.generation {
		return false
	}
	return b.state != domain.StateHalfOpen || b.probes > 0
}

func (b *Breaker) releaseProbe() {
	if b.probes > 0 {
		b.probes--
	}
}

// transition troca o estado e zera os contadores do novo estado. Exige b.mu.
func (b *Breaker) transition(to domain.BreakerState, now time.Time) *domain.BreakerEvent {
	from := b.state
	b.state = to
	b.generation++
	b.halfOpenSuccesses = 0
	b.probes = 0
	switch to {
	case domain.StateOpen:
		b.openedAt = now
	case domain.StateClosed:
		b.openedAt = time.Time{}
		b.consecutiveFailures = 0
		b.failures = b.failures[:0]
	case domain.StateHalfOpen:
		b.consecutiveFailures = 0
		b.failures = b.failures[:0]
	}
	return &domain.BreakerEvent{DependencyID: b.id, From: from, To: to, At: now}
}

func (b *Breaker) emit(ev *domain.BreakerEvent) {
	if ev == nil {
		return
	}
	log := b.logger().WithFields(logrus.Fields{
		"dependency": ev.DependencyID,
		"from":       ev.From,
		"to":         ev.To,
	})
	if ev.To == domain.StateOpen {
		log.Warn("circuit breaker opened")
	} else {
		log.Info("circuit breaker transition")
	}
	if b.opts.Stats == nil {
		return
	}
	if err := b.opts.Stats.RecordBreaker(context.Background(), *ev); err != nil {
		log.WithError(err).Debug("breaker stats record failed")
	}
}

func (b *Breaker) now() time.Time {
	if b.opts.Now != nil {
		return b.opts.Now()
	}
	return time.Now()
}

func (b *Breaker) logger() logrus.FieldLogger {
	if b.opts.Log != nil {
		return b.opts.Log
	}
	return logrus.StandardLogger()
}

// Breakers é o registro de breakers por dependência, criados sob demanda.
type Breakers struct {
	opts BreakerOptions

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewBreakers(opts BreakerOptions) *Breakers {
	return &Breakers{opts: opts, breakers: make(map[string]*Breaker)}
}

// Disabled diz se os breakers do registro estão desligados.
func (r *Breakers) Disabled() bool { return r.opts.Disabled }

// Get devolve o breaker da dependência, criando sob demanda. Desligado, devolve um
// breaker inerte sem registrá-lo.
func (r *Breakers) Get(dependencyID string) *Breaker {
	if r.opts.Disabled {
		return NewBreaker(dependencyID, r.opts)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dependencyID]; ok {
		return b
	}
	b := NewBreaker(dependencyID, r.opts)
	r.breakers[dependencyID] = b
	return b
}

func (r *Breakers) Snapshots() []domain.BreakerSnapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	out := make([]domain.BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	return out
}
