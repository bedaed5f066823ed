// Package engine holds the per-actor state machines: Node drives commanders
// and leaders, Soldier drives the leaves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"troops/internal/domain"
	"troops/internal/heartbeat"
	"troops/internal/loop"
	"troops/internal/metrics"
	"troops/internal/registry"
)

var ErrInvalidAssignment = errors.New("invalid assignment")

// Pusher delivers a derived assignment to a subordinate with an endpoint.
type Pusher interface {
	Push(ctx context.Context, sub domain.SubordinateInfo, a domain.Assignment) error
}

// Forwarder sends a bundled report upward. a is the assignment the report
// was produced for.
type Forwarder interface {
	Forward(ctx context.Context, a domain.Assignment, r domain.Report) error
}

type PusherFunc func(ctx context.Context, sub domain.SubordinateInfo, a domain.Assignment) error

func (f PusherFunc) Push(ctx context.Context, sub domain.SubordinateInfo, a domain.Assignment) error {
	return f(ctx, sub, a)
}

type ForwarderFunc func(ctx context.Context, a domain.Assignment, r domain.Report) error

func (f ForwarderFunc) Forward(ctx context.Context, a domain.Assignment, r domain.Report) error {
	return f(ctx, a, r)
}

// Config wires a Node. Only Info is required.
type Config struct {
	Info            domain.NodeInfo
	HeartbeatWindow time.Duration
	RequestTimeout  time.Duration
	Pusher          Pusher
	Forwarder       Forwarder
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
	// OnSubordinatesChanged runs in its own goroutine after a subordinate
	// joins, re-announces, leaves or is evicted.
	OnSubordinatesChanged func()
}

// Node is the commander/leader engine: it owns the subordinate registry,
// the assignment table, the inbound cache and every background task.
type Node struct {
	cfg     Config
	log     *slog.Logger
	subs    *registry.Registry
	monitor *heartbeat.Monitor
	cache   Cache

	ctx    context.Context
	cancel context.CancelFunc

	// change serializes assignment changes so that a replacement is fully
	// retracted, its emitter included, before its successor is issued. It is
	// held across the emitter wait; mu is not.
	change sync.Mutex

	mu          sync.Mutex
	assignments map[string]domain.Assignment
	emitters    map[string]*loop.Task
}

type delivery struct {
	sub domain.SubordinateInfo
	a   domain.Assignment
}

func NewNode(cfg Config) *Node {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:         cfg,
		log:         cfg.Logger.With("role", string(cfg.Info.Role), "id", cfg.Info.ID),
		subs:        registry.New(),
		ctx:         ctx,
		cancel:      cancel,
		assignments: make(map[string]domain.Assignment),
		emitters:    make(map[string]*loop.Task),
	}
	n.monitor = heartbeat.NewMonitor(cfg.HeartbeatWindow, n.evict, n.log)
	return n
}

func (n *Node) now() time.Time {
	if n.cfg.Now != nil {
		return n.cfg.Now()
	}
	return time.Now()
}

// ID returns the node's own id.
func (n *Node) ID() string { return n.cfg.Info.ID }

// Info returns the node's public info. Weapons are the union of what its
// subordinates can do.
func (n *Node) Info() domain.NodeInfo {
	info := n.cfg.Info
	info.Subordinates = n.subs.IDs()
	var weapons []string
	for _, s := range n.subs.List() {
		for _, w := range s.Weapons {
			if !slices.Contains(weapons, w) {
				weapons = append(weapons, w)
			}
		}
	}
	sort.Strings(weapons)
	info.Weapons = weapons
	info.Assignments = n.Assignments()
	return info
}

// Targets reports whether an assignment addresses a subordinate.
func Targets(a domain.Assignment, sub domain.SubordinateInfo) bool {
	return a.Place == domain.PlaceAll || a.Place == sub.Place
}

// Derive builds the sub-assignment a subordinate receives for a.
func Derive(author string, a domain.Assignment, sub domain.SubordinateInfo) domain.Assignment {
	return domain.Assignment{
		Author: author,
		Requirement: domain.Requirement{
			Values:  domain.Intersect(a.Requirement.Values, sub.Weapons),
			Trigger: a.Requirement.Trigger,
		},
		Trigger: a.Requirement.Trigger,
		Place:   domain.PlaceAll,
		Purpose: a.ID(),
	}
}

func validate(a domain.Assignment) error {
	switch {
	case a.Purpose == "":
		return fmt.Errorf("%w: purpose is required", ErrInvalidAssignment)
	case a.Place == "":
		return fmt.Errorf("%w: place is required", ErrInvalidAssignment)
	case a.Trigger.Timer < 0 || a.Requirement.Trigger.Timer < 0:
		return fmt.Errorf("%w: timer must not be negative", ErrInvalidAssignment)
	}
	return nil
}

// AcceptAssignment stores a, replacing any assignment with the same purpose
// and place, and fans derived assignments out to the targeted subordinates.
func (n *Node) AcceptAssignment(ctx context.Context, a domain.Assignment) (domain.Assignment, error) {
	if err := validate(a); err != nil {
		return domain.Assignment{}, err
	}
	id := a.ID()

	n.change.Lock()
	defer n.change.Unlock()

	n.mu.Lock()
	prev, exists := n.assignments[id]
	if exists && prev.Equal(a) {
		n.mu.Unlock()
		n.cfg.Metrics.Assignment("unchanged")
		return prev, nil
	}
	var stopped *loop.Task
	if exists {
		stopped = n.retractLocked(id)
	}
	n.mu.Unlock()

	// The old emitter may be inside a forward; wait for it without blocking
	// readers of the table.
	if stopped != nil {
		<-stopped.Done()
	}

	n.mu.Lock()
	var out []delivery
	for _, sub := range n.subs.List() {
		if !Targets(a, sub) {
			continue
		}
		d := Derive(n.ID(), a, sub)
		if err := n.subs.Update(sub.ID, func(info *domain.SubordinateInfo) { setDerived(info, d) }); err != nil {
			continue
		}
		out = append(out, delivery{sub: sub, a: d})
	}
	if a.Trigger.Timer > 0 && n.ctx.Err() == nil {
		n.emitters[id] = n.startEmitter(a)
	}
	n.assignments[id] = a
	n.mu.Unlock()

	if exists {
		n.log.Info("assignment replaced", "purpose", a.Purpose, "place", a.Place, "assignment", id)
		n.cfg.Metrics.Assignment("replaced")
	} else {
		n.log.Info("assignment accepted", "purpose", a.Purpose, "place", a.Place, "assignment", id)
		n.cfg.Metrics.Assignment("new")
	}
	n.deliver(ctx, out)
	return a, nil
}

// ApplyAssignments accepts every assignment of a list pulled from the superior.
func (n *Node) ApplyAssignments(ctx context.Context, list []domain.Assignment) {
	for _, a := range list {
		if _, err := n.AcceptAssignment(ctx, a); err != nil {
			n.log.Warn("ignoring assignment from superior", "purpose", a.Purpose, "err", err)
		}
	}
}

// retractLocked drops assignment id, every sub-assignment derived from it
// and its emitter. The emitter is stopped but may still be finishing a
// flush; it is returned so the caller can wait outside n.mu. Caller holds
// n.mu.
func (n *Node) retractLocked(id string) *loop.Task {
	for _, sid := range n.subs.IDs() {
		_ = n.subs.Update(sid, func(info *domain.SubordinateInfo) {
			info.Assignments = slices.DeleteFunc(info.Assignments, func(d domain.Assignment) bool {
				return d.Purpose == id
			})
		})
	}
	delete(n.assignments, id)
	task, ok := n.emitters[id]
	if !ok {
		return nil
	}
	task.Stop()
	delete(n.emitters, id)
	return task
}

func setDerived(info *domain.SubordinateInfo, d domain.Assignment) {
	for i := range info.Assignments {
		if info.Assignments[i].Purpose == d.Purpose {
			info.Assignments[i] = d
			return
		}
	}
	info.Assignments = append(info.Assignments, d)
}

// Assignments returns the assignment table ordered by purpose and place.
func (n *Node) Assignments() []domain.Assignment {
	n.mu.Lock()
	out := make([]domain.Assignment, 0, len(n.assignments))
	for _, a := range n.assignments {
		out = append(out, a)
	}
	n.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Purpose != out[j].Purpose {
			return out[i].Purpose < out[j].Purpose
		}
		return out[i].Place < out[j].Place
	})
	return out
}

// Emitting reports whether an emitter is running for an assignment id.
func (n *Node) Emitting(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	task, ok := n.emitters[id]
	return ok && !task.Stopped()
}

// AcceptSubordinate registers a newcomer, derives its share of every stored
// assignment and starts watching its heartbeat.
func (n *Node) AcceptSubordinate(ctx context.Context, info domain.SubordinateInfo) (domain.SubordinateInfo, error) {
	if info.ID == "" {
		return domain.SubordinateInfo{}, errors.New("subordinate id is required")
	}
	if err := n.subs.Add(info); err != nil {
		return domain.SubordinateInfo{}, err
	}
	out := n.rederive(info.ID)
	n.monitor.Watch(info.ID)
	n.log.Info("subordinate joined", "subordinate", info.ID, "place", info.Place, "weapons", info.Weapons)
	n.changed()
	n.deliver(ctx, out)
	stored, err := n.subs.Get(info.ID)
	if err != nil {
		// Evicted or removed while we were pushing.
		return domain.SubordinateInfo{}, err
	}
	return stored, nil
}

// UpdateSubordinate replaces the public info of a known subordinate, for
// instance after its capabilities changed, and re-derives its assignments.
func (n *Node) UpdateSubordinate(ctx context.Context, info domain.SubordinateInfo) (domain.SubordinateInfo, error) {
	if err := n.subs.Replace(info); err != nil {
		return domain.SubordinateInfo{}, err
	}
	out := n.rederive(info.ID)
	n.monitor.Beat(info.ID)
	n.log.Info("subordinate re-announced", "subordinate", info.ID, "weapons", info.Weapons)
	n.changed()
	n.deliver(ctx, out)
	return n.subs.Get(info.ID)
}

// rederive rebuilds the derived assignment list of one subordinate from the
// current table and returns what must be pushed.
func (n *Node) rederive(id string) []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	sub, err := n.subs.Get(id)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(n.assignments))
	for aid := range n.assignments {
		ids = append(ids, aid)
	}
	sort.Strings(ids)
	var derived []domain.Assignment
	for _, aid := range ids {
		if a := n.assignments[aid]; Targets(a, sub) {
			derived = append(derived, Derive(n.ID(), a, sub))
		}
	}
	_ = n.subs.Update(id, func(info *domain.SubordinateInfo) { info.Assignments = derived })
	out := make([]delivery, 0, len(derived))
	for _, d := range derived {
		out = append(out, delivery{sub: sub, a: d})
	}
	return out
}

// RemoveSubordinate drops a subordinate and reports whether it was present.
func (n *Node) RemoveSubordinate(id string) bool {
	n.monitor.Forget(id)
	if !n.subs.Remove(id) {
		return false
	}
	dropped := n.cache.DropAuthor(id)
	n.log.Info("subordinate removed", "subordinate", id, "dropped", dropped)
	n.changed()
	return true
}

func (n *Node) evict(id string) {
	if !n.subs.Remove(id) {
		return
	}
	dropped := n.cache.DropAuthor(id)
	n.log.Warn("subordinate evicted", "subordinate", id, "dropped", dropped)
	n.cfg.Metrics.Evicted()
	n.changed()
}

func (n *Node) changed() {
	n.cfg.Metrics.SetSubordinates(n.subs.Len())
	if hook := n.cfg.OnSubordinatesChanged; hook != nil {
		go hook()
	}
}

// Heartbeat restarts the liveness window of a subordinate. Unknown ids
// report false.
func (n *Node) Heartbeat(id string) bool {
	if !n.subs.Check(id) {
		return false
	}
	return n.monitor.Beat(id)
}

// Subordinate returns the stored snapshot of id and its validator.
func (n *Node) Subordinate(id string) (domain.SubordinateInfo, string, error) {
	return n.subs.ETag(id)
}

func (n *Node) Subordinates() []domain.SubordinateInfo {
	return n.subs.List()
}

// AcceptArtifact buffers work or a report from a subordinate until the
// emitter of its assignment drains it.
func (n *Node) AcceptArtifact(subID string, r domain.Report) error {
	if !n.subs.Check(subID) {
		return fmt.Errorf("subordinate %s: %w", subID, registry.ErrNotFound)
	}
	if r.Purpose == "" {
		return errors.New("purpose is required")
	}
	n.cache.Add(subID, r)
	n.cfg.Metrics.Artifact()
	return nil
}

// Pending returns the number of buffered artifacts.
func (n *Node) Pending() int { return n.cache.Len() }

func (n *Node) startEmitter(a domain.Assignment) *loop.Task {
	id := a.ID()
	period := time.Duration(a.Trigger.Timer * float64(time.Second))
	return loop.Every("emitter:"+id, period, func() bool {
		n.flush(a)
		return true
	})
}

// flush drains the items of one assignment and forwards them as one report.
// Failed forwards are not retried.
func (n *Node) flush(a domain.Assignment) {
	items := n.cache.Drain(a.ID())
	if len(items) == 0 {
		return
	}
	report := Bundle(items, n.now().UTC().Format(time.RFC3339), n.cfg.Info.Place, a.Purpose)
	if n.cfg.Forwarder == nil {
		n.log.Warn("no forwarder configured, dropping report", "purpose", a.Purpose, "values", len(report.Values))
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.RequestTimeout)
	defer cancel()
	if err := n.cfg.Forwarder.Forward(ctx, a, report); err != nil {
		n.log.Error("forward report failed", "purpose", a.Purpose, "values", len(report.Values), "err", err)
		n.cfg.Metrics.Forwarded(false)
		return
	}
	n.log.Debug("report forwarded", "purpose", a.Purpose, "values", len(report.Values))
	n.cfg.Metrics.Forwarded(true)
}

func (n *Node) deliver(ctx context.Context, out []delivery) {
	if n.cfg.Pusher == nil {
		return
	}
	for _, d := range out {
		if d.sub.Endpoint == "" {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
		if err := n.cfg.Pusher.Push(pctx, d.sub, d.a); err != nil {
			n.log.Warn("push assignment failed", "subordinate", d.sub.ID, "purpose", d.a.Purpose, "err", err)
		}
		cancel()
	}
}

// Shutdown stops every emitter and heartbeat watcher without flushing.
func (n *Node) Shutdown() {
	n.cancel()
	n.monitor.Stop()
	n.mu.Lock()
	tasks := n.emitters
	n.emitters = make(map[string]*loop.Task)
	n.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
	}
	for _, t := range tasks {
		<-t.Done()
	}
}
