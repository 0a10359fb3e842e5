// Package effect defines effects, which produce weighted target values for the
// object components they affect, and the ordered stacks that hold them.
package effect

import (
	"sync"

	"github.com/google/uuid"

	"lightengine/internal/filter"
	"lightengine/internal/object"
)

// Processor is the capability every effect variant implements. It reads
// current and writes into target only the parameters it touches. id is the
// filter-resolved target id, t the evaluation time in seconds.
type Processor interface {
	Type() string
	ProcessComponent(o *object.Object, c *object.Component, current, target object.Values, id int, t float64)
}

// SceneProcessor is implemented by processors whose parameters take part in
// scene snapshots and interpolation.
type SceneProcessor interface {
	SceneData() filter.SceneData
	UpdateSceneData(d filter.SceneData)
	LerpFromSceneData(start, end filter.SceneData, weight float64)
}

// Effect wraps a Processor with its enable flag, global weight, optional
// filter and targeted component types (none means all).
type Effect struct {
	ID   string
	Name string

	mu         sync.RWMutex
	enabled    bool
	weight     float64
	filter     *filter.Filter
	components []object.ComponentType
	proc       Processor
	clock      float64
}

func New(name string, p Processor) *Effect {
	if name == "" {
		name = p.Type()
	}
	return &Effect{ID: uuid.NewString(), Name: name, enabled: true, weight: 1, proc: p}
}

func (e *Effect) Processor() Processor { return e.proc }

func (e *Effect) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

func (e *Effect) SetEnabled(v bool) {
	e.mu.Lock()
	e.enabled = v
	e.mu.Unlock()
}

func (e *Effect) Weight() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weight
}

func (e *Effect) SetWeight(w float64) {
	e.mu.Lock()
	e.weight = w
	e.mu.Unlock()
}

func (e *Effect) Filter() *filter.Filter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filter
}

func (e *Effect) SetFilter(f *filter.Filter) {
	e.mu.Lock()
	e.filter = f
	e.mu.Unlock()
}

func (e *Effect) SetComponents(types ...object.ComponentType) {
	e.mu.Lock()
	e.components = append([]object.ComponentType(nil), types...)
	e.mu.Unlock()
}

// Targets reports whether the effect processes components of type t.
func (e *Effect) Targets(t object.ComponentType) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.components) == 0 {
		return true
	}
	for _, ct := range e.components {
		if ct == t {
			return true
		}
	}
	return false
}

// Advance moves the effect clock used by committed passes.
func (e *Effect) Advance(dt float64) {
	e.mu.Lock()
	e.clock += dt
	e.mu.Unlock()
}

func (e *Effect) Time() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock
}

// IsAffectingObject is false for disabled effects and for objects the filter
// rejects. An effect without filter affects every object.
func (e *Effect) IsAffectingObject(o *object.Object) bool {
	if o == nil || !e.Enabled() {
		return false
	}
	f := e.Filter()
	return f == nil || f.IsAffectingObject(o)
}

// Result returns the filter result for the component with the effect weight
// applied. The weight is not clamped.
func (e *Effect) Result(o *object.Object, c *object.Component) filter.Result {
	r := filter.DefaultResult()
	if f := e.Filter(); f != nil {
		r = f.Result(o, c)
	}
	r.Weight *= e.Weight()
	return r
}

// IsReallyAffecting is IsAffectingObject plus a non-zero weight on at least
// one targeted component.
func (e *Effect) IsReallyAffecting(o *object.Object) bool {
	if !e.IsAffectingObject(o) {
		return false
	}
	for _, c := range o.Components {
		if e.Targets(c.Type) && e.Result(o, c).Weight > 0 {
			return true
		}
	}
	return false
}

// Process runs the processor. A negative t is a committed step evaluated at
// the effect clock; t >= 0 is a preview at that time.
func (e *Effect) Process(o *object.Object, c *object.Component, current, target object.Values, id int, t float64) {
	if t < 0 {
		t = e.Time()
	}
	e.proc.ProcessComponent(o, c, current, target, id, t)
}

// SceneData snapshots enable, weight, filter and processor parameters.
func (e *Effect) SceneData() filter.SceneData {
	d := filter.SceneData{"enabled": e.Enabled(), "weight": e.Weight()}
	if f := e.Filter(); f != nil {
		if fd := f.SceneData(); fd != nil {
			d["filter"] = fd
		}
	}
	if sp, ok := e.proc.(SceneProcessor); ok {
		d["processor"] = sp.SceneData()
	}
	return d
}

func (e *Effect) UpdateSceneData(d filter.SceneData) {
	if d == nil {
		return
	}
	if v, ok := d["enabled"].(bool); ok {
		e.SetEnabled(v)
	}
	if v, ok := d.Float("weight"); ok {
		e.SetWeight(v)
	}
	if f := e.Filter(); f != nil {
		f.UpdateSceneData(d.Sub("filter"))
	}
	if sp, ok := e.proc.(SceneProcessor); ok {
		sp.UpdateSceneData(d.Sub("processor"))
	}
}

func (e *Effect) LerpFromSceneData(start, end filter.SceneData, w float64) {
	if start == nil || end == nil {
		return
	}
	if v, ok := filter.LerpDiscrete(start["enabled"], end["enabled"], w).(bool); ok {
		e.SetEnabled(v)
	}
	a, okA := start.Float("weight")
	b, okB := end.Float("weight")
	if okA && okB {
		e.SetWeight(filter.Lerp(a, b, w))
	}
	if f := e.Filter(); f != nil {
		f.LerpFromSceneData(start.Sub("filter"), end.Sub("filter"), w)
	}
	if sp, ok := e.proc.(SceneProcessor); ok {
		sp.LerpFromSceneData(start.Sub("processor"), end.Sub("processor"), w)
	}
}
