package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"troops/internal/capability"
	"troops/internal/domain"
	"troops/internal/loop"
	"troops/internal/metrics"
)

// Sender posts a soldier's work to its leader.
type Sender interface {
	SendWork(ctx context.Context, w domain.Work) error
}

type SenderFunc func(ctx context.Context, w domain.Work) error

func (f SenderFunc) SendWork(ctx context.Context, w domain.Work) error { return f(ctx, w) }

type SoldierConfig struct {
	Info           domain.NodeInfo
	Capabilities   capability.Set
	Sender         Sender
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
}

// Soldier runs one emitter per order and reads its capabilities on each tick.
type Soldier struct {
	cfg  SoldierConfig
	log  *slog.Logger
	caps capability.Set

	ctx    context.Context
	cancel context.CancelFunc

	senderMu sync.RWMutex
	sender   Sender

	// change serializes order replacement across the wait for the old
	// emitter; mu only guards the tables.
	change sync.Mutex

	mu       sync.Mutex
	orders   map[string]domain.Order
	emitters map[string]*loop.Task
}

func NewSoldier(cfg SoldierConfig) *Soldier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = capability.Builtins()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	cfg.Info.Role = domain.RoleSoldier
	ctx, cancel := context.WithCancel(context.Background())
	return &Soldier{
		cfg:      cfg,
		log:      cfg.Logger.With("role", string(domain.RoleSoldier), "id", cfg.Info.ID),
		caps:     cfg.Capabilities,
		ctx:      ctx,
		cancel:   cancel,
		sender:   cfg.Sender,
		orders:   make(map[string]domain.Order),
		emitters: make(map[string]*loop.Task),
	}
}

func (s *Soldier) now() time.Time {
	if s.cfg.Now != nil {
		return s.cfg.Now()
	}
	return time.Now()
}

// SetSender points the soldier at a (new) leader.
func (s *Soldier) SetSender(sender Sender) {
	s.senderMu.Lock()
	s.sender = sender
	s.senderMu.Unlock()
}

// Info returns the soldier's public info; its weapons are its capabilities.
func (s *Soldier) Info() domain.NodeInfo {
	info := s.cfg.Info
	info.Weapons = s.caps.Names()
	info.Assignments = s.Orders()
	return info
}

// AcceptOrder replaces any order with the same purpose and starts a fresh
// emitter for it. Re-sending identical content keeps the running emitter.
func (s *Soldier) AcceptOrder(o domain.Order) (domain.Order, error) {
	if o.Purpose == "" {
		return domain.Order{}, errors.New("order purpose is required")
	}
	if o.Trigger.Timer < 0 {
		return domain.Order{}, errors.New("order timer must not be negative")
	}
	s.change.Lock()
	defer s.change.Unlock()

	s.mu.Lock()
	prev, replacing := s.orders[o.Purpose]
	if replacing && prev.Equal(o) {
		s.mu.Unlock()
		s.cfg.Metrics.Assignment("unchanged")
		return prev, nil
	}
	stopped := s.emitters[o.Purpose]
	if stopped != nil {
		stopped.Stop()
		delete(s.emitters, o.Purpose)
	}
	s.mu.Unlock()
	if stopped != nil {
		<-stopped.Done()
	}

	if replacing {
		s.cfg.Metrics.Assignment("replaced")
		s.log.Info("order replaced", "purpose", o.Purpose, "values", o.Values(), "timer", o.Trigger.Timer)
	} else {
		s.cfg.Metrics.Assignment("new")
		s.log.Info("order accepted", "purpose", o.Purpose, "values", o.Values(), "timer", o.Trigger.Timer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.Purpose] = o
	if o.Trigger.Timer > 0 && s.ctx.Err() == nil {
		s.emitters[o.Purpose] = s.startEmitter(o)
	}
	return o, nil
}

// ApplyOrders accepts every order pulled from the leader.
func (s *Soldier) ApplyOrders(_ context.Context, orders []domain.Order) {
	for _, o := range orders {
		if _, err := s.AcceptOrder(o); err != nil {
			s.log.Warn("ignoring order from leader", "purpose", o.Purpose, "err", err)
		}
	}
}

func (s *Soldier) Orders() []domain.Order {
	s.mu.Lock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Purpose < out[j].Purpose })
	return out
}

// Running reports whether the emitter of an order is alive.
func (s *Soldier) Running(purpose string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.emitters[purpose]
	if !ok {
		return false
	}
	select {
	case <-task.Done():
		return false
	default:
		return true
	}
}

func (s *Soldier) startEmitter(o domain.Order) *loop.Task {
	period := time.Duration(o.Trigger.Timer * float64(time.Second))
	return loop.Every("order:"+o.Purpose, period, func() bool {
		return s.work(o)
	})
}

// work takes one reading of every capability the order names and posts it.
// A capability that is missing or cannot read ends the order's emitter for
// good; nothing is posted for that tick.
func (s *Soldier) work(o domain.Order) bool {
	now := s.now().UTC().Format(time.RFC3339)
	for _, name := range o.Values() {
		if _, ok := s.caps[name]; !ok {
			s.log.Error("order names a capability this soldier lacks, stopping order", "purpose", o.Purpose, "capability", name)
			return false
		}
	}
	values := make([]domain.Value, 0, len(o.Values()))
	for _, name := range o.Values() {
		v, unit, ok := s.caps[name].Read()
		if !ok {
			s.log.Error("capability produced no value, stopping order", "purpose", o.Purpose, "capability", name)
			return false
		}
		values = append(values, domain.Value{Type: name, Value: v, Unit: unit})
	}
	if len(values) == 0 {
		return true
	}
	s.senderMu.RLock()
	sender := s.sender
	s.senderMu.RUnlock()
	if sender == nil {
		s.log.Warn("no leader to send work to", "purpose", o.Purpose)
		return true
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()
	err := sender.SendWork(ctx, domain.Work{Time: now, Purpose: o.Purpose, Values: values})
	if err != nil {
		s.log.Warn("send work failed", "purpose", o.Purpose, "err", err)
	}
	s.cfg.Metrics.Forwarded(err == nil)
	return true
}

// Shutdown stops every emitter without a final reading.
func (s *Soldier) Shutdown() {
	s.cancel()
	s.mu.Lock()
	tasks := s.emitters
	s.emitters = make(map[string]*loop.Task)
	s.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
		<-t.Done()
	}
}
