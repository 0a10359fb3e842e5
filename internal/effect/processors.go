package effect

import (
	"math"
	"sync"

	"lightengine/internal/filter"
	"lightengine/internal/object"
)

// matches reports whether p is addressed by name; an empty name addresses
// every parameter of the component.
func matches(name string, p *object.Parameter) bool {
	return name == "" || p.Name == name
}

// Override replaces the value of a parameter outright.
type Override struct {
	mu        sync.RWMutex
	parameter string
	value     float64
}

func NewOverride(parameter string, value float64) *Override {
	return &Override{parameter: parameter, value: value}
}

func (*Override) Type() string { return "override" }

func (x *Override) Value() float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.value
}

func (x *Override) SetValue(v float64) {
	x.mu.Lock()
	x.value = v
	x.mu.Unlock()
}

func (x *Override) ProcessComponent(_ *object.Object, c *object.Component, _, target object.Values, _ int, _ float64) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, p := range c.Parameters {
		if matches(x.parameter, p) {
			target[p] = x.value
		}
	}
}

func (x *Override) SceneData() filter.SceneData {
	return filter.SceneData{"value": x.Value()}
}

func (x *Override) UpdateSceneData(d filter.SceneData) {
	if v, ok := d.Float("value"); ok {
		x.SetValue(v)
	}
}

func (x *Override) LerpFromSceneData(start, end filter.SceneData, w float64) {
	a, okA := start.Float("value")
	b, okB := end.Float("value")
	if okA && okB {
		x.SetValue(filter.Lerp(a, b, w))
	}
}

// Offset adds a constant to the value resolved so far.
type Offset struct {
	mu        sync.RWMutex
	parameter string
	amount    float64
}

func NewOffset(parameter string, amount float64) *Offset {
	return &Offset{parameter: parameter, amount: amount}
}

func (*Offset) Type() string { return "offset" }

func (x *Offset) ProcessComponent(_ *object.Object, c *object.Component, current, target object.Values, _ int, _ float64) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, p := range c.Parameters {
		if matches(x.parameter, p) {
			target[p] = current[p] + x.amount
		}
	}
}

func (x *Offset) SceneData() filter.SceneData {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return filter.SceneData{"amount": x.amount}
}

func (x *Offset) UpdateSceneData(d filter.SceneData) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if v, ok := d.Float("amount"); ok {
		x.amount = v
	}
}

func (x *Offset) LerpFromSceneData(start, end filter.SceneData, w float64) {
	a, okA := start.Float("amount")
	b, okB := end.Float("amount")
	if okA && okB {
		x.mu.Lock()
		x.amount = filter.Lerp(a, b, w)
		x.mu.Unlock()
	}
}

// Wave drives a parameter with a sine. Each target id is shifted by Phase
// cycles, which turns a group into a chase when the filter uses local ids.
type Wave struct {
	mu        sync.RWMutex
	parameter string
	frequency float64
	amplitude float64
	center    float64
	phase     float64
}

func NewWave(parameter string, frequency, amplitude, center, phase float64) *Wave {
	return &Wave{parameter: parameter, frequency: frequency, amplitude: amplitude, center: center, phase: phase}
}

func (*Wave) Type() string { return "wave" }

func (x *Wave) ProcessComponent(_ *object.Object, c *object.Component, _, target object.Values, id int, t float64) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if id < 0 {
		id = 0
	}
	v := x.center + x.amplitude*math.Sin(2*math.Pi*(x.frequency*t+x.phase*float64(id)))
	for _, p := range c.Parameters {
		if matches(x.parameter, p) {
			target[p] = v
		}
	}
}

func (x *Wave) SceneData() filter.SceneData {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return filter.SceneData{
		"frequency": x.frequency,
		"amplitude": x.amplitude,
		"center":    x.center,
		"phase":     x.phase,
	}
}

func (x *Wave) UpdateSceneData(d filter.SceneData) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for key, dst := range x.fields() {
		if v, ok := d.Float(key); ok {
			*dst = v
		}
	}
}

func (x *Wave) LerpFromSceneData(start, end filter.SceneData, w float64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for key, dst := range x.fields() {
		a, okA := start.Float(key)
		b, okB := end.Float(key)
		if okA && okB {
			*dst = filter.Lerp(a, b, w)
		}
	}
}

func (x *Wave) fields() map[string]*float64 {
	return map[string]*float64{
		"frequency": &x.frequency,
		"amplitude": &x.amplitude,
		"center":    &x.center,
		"phase":     &x.phase,
	}
}
