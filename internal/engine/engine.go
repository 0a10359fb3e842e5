// Package engine resolves the final parameter values of every object by
// folding its effect chain, and publishes them for the DMX output.
package engine

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lightengine/internal/config"
	"lightengine/internal/effect"
	"lightengine/internal/filter"
	"lightengine/internal/logger"
	"lightengine/internal/metrics"
	"lightengine/internal/object"
)

// Blend moves current toward target by weight, clamped to [0,1]. Weight 0
// returns current and weight 1 returns target exactly.
func Blend(current, target, weight float64) float64 {
	w := clamp01(weight)
	return current*(1-w) + target*w
}

func clamp01(w float64) float64 {
	switch {
	case math.IsNaN(w), w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

// Engine runs on its own goroutine; the DMX interface only reads the values it
// publishes on the objects.
type Engine struct {
	log      *logger.Log
	registry *object.Registry
	metrics  *metrics.Metrics
	rate     int

	mu           sync.RWMutex
	objectStacks map[int]*effect.Stack
	stacks       []*effect.Stack

	seed atomic.Uint64
	pass atomic.Uint64
}

func New(log logger.Logger, registry *object.Registry, m *metrics.Metrics, cfg config.EngineConf) *Engine {
	rate := cfg.Rate
	if rate <= 0 {
		rate = 50
	}
	e := &Engine{
		log:          log.With(logger.Fields{"module": "engine"}),
		registry:     registry,
		metrics:      m,
		rate:         rate,
		objectStacks: map[int]*effect.Stack{},
	}
	e.seed.Store(cfg.Seed)
	return e
}

// AddStack inserts a shared stack. Stacks run in layer order, and in
// registration order within a layer.
func (e *Engine) AddStack(s *effect.Stack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stacks = append(e.stacks, s)
	sort.SliceStable(e.stacks, func(i, j int) bool { return e.stacks[i].Layer < e.stacks[j].Layer })
}

// ObjectStack returns the object's own stack, creating it on first use.
func (e *Engine) ObjectStack(id int) *effect.Stack {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.objectStacks[id]
	if !ok {
		s = effect.NewStack("object", effect.ObjectLayer)
		e.objectStacks[id] = s
	}
	return s
}

// Stacks returns every stack: object stacks by object id, then the shared
// ones in layer order.
func (e *Engine) Stacks() []*effect.Stack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]int, 0, len(e.objectStacks))
	for id := range e.objectStacks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*effect.Stack, 0, len(e.objectStacks)+len(e.stacks))
	for _, id := range ids {
		out = append(out, e.objectStacks[id])
	}
	return append(out, e.stacks...)
}

// SharedStacks returns the stacks added with AddStack, in layer order.
func (e *Engine) SharedStacks() []*effect.Stack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*effect.Stack(nil), e.stacks...)
}

func (e *Engine) chain(o *object.Object) []*effect.Stack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*effect.Stack, 0, len(e.stacks)+1)
	if s, ok := e.objectStacks[o.ID]; ok {
		out = append(out, s)
	}
	return append(out, e.stacks...)
}

// Reshuffle changes the seed used by randomized filters.
func (e *Engine) Reshuffle() {
	e.seed.Add(0x9e3779b97f4a7c15)
}

// Process runs one committed pass: effect clocks advance by dt seconds,
// filters get the new session, and every object publishes its values.
func (e *Engine) Process(dt float64) {
	start := time.Now()
	objs := e.registry.Objects()
	sess := filter.Session{Pass: e.pass.Add(1), Seed: e.seed.Load(), Objects: objs}

	for _, s := range e.Stacks() {
		s.Advance(dt)
		s.Prepare(sess)
	}
	for _, o := range objs {
		o.SetResolved(e.resolve(o, -1))
	}

	e.metrics.Resolve(time.Since(start))
}

// Resolve folds the chain of o without publishing. t < 0 evaluates at the
// effect clocks, t >= 0 is a preview at that time.
func (e *Engine) Resolve(o *object.Object, t float64) object.Values {
	if o == nil {
		return object.Values{}
	}
	return e.resolve(o, t)
}

func (e *Engine) resolve(o *object.Object, t float64) object.Values {
	current := o.BaseValues()
	for _, s := range e.chain(o) {
		for _, eff := range s.Effects() {
			fold(eff, o, current, t)
		}
	}
	return current
}

// fold blends one effect into current. A zero weight is still processed so
// the effect is evaluated, it just leaves current untouched.
func fold(eff *effect.Effect, o *object.Object, current object.Values, t float64) {
	if !eff.IsAffectingObject(o) {
		return
	}
	for _, c := range o.Components {
		if !eff.Targets(c.Type) {
			continue
		}
		r := eff.Result(o, c)
		target := object.Values{}
		eff.Process(o, c, current, target, r.ID, t)
		for p, v := range target {
			cur, ok := current[p]
			if !ok {
				continue
			}
			current[p] = Blend(cur, v, r.Weight)
		}
	}
}

// IsReallyAffecting reports whether eff currently changes something on o.
func (e *Engine) IsReallyAffecting(eff *effect.Effect, o *object.Object) bool {
	return e.registry.Contains(o) && eff.IsReallyAffecting(o)
}

// ChainTargets lists, in chain order, the effects affecting o on components of type t.
func (e *Engine) ChainTargets(o *object.Object, t object.ComponentType) []*effect.Effect {
	if o == nil || o.Component(t) == nil {
		return nil
	}
	var out []*effect.Effect
	for _, s := range e.chain(o) {
		for _, eff := range s.Effects() {
			if eff.Targets(t) && eff.IsAffectingObject(o) {
				out = append(out, eff)
			}
		}
	}
	return out
}

// Run processes passes at the configured rate until ctx is done. The delay is
// fixed: each pass is scheduled one period after the previous one finished.
func (e *Engine) Run(ctx context.Context) error {
	period := time.Second / time.Duration(e.rate)
	e.log.Infof("resolution loop started at %d Hz", e.rate)

	last := time.Now()
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Debug("resolution loop stopped")
			return nil
		case now := <-timer.C:
			e.Process(now.Sub(last).Seconds())
			last = now
			timer.Reset(period)
		}
	}
}
