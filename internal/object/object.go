// Package object holds the controlled objects, their components and parameters,
// and the values the resolution engine publishes for them.
package object

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrUnknownComponent = errors.New("unknown component type")

// ComponentType identifies what a component controls on an object.
type ComponentType int

const (
	Intensity ComponentType = iota
	Strobe
	Orientation
	Custom
)

var componentNames = [...]string{"intensity", "strobe", "orientation", "custom"}

func (t ComponentType) String() string {
	if t < 0 || int(t) >= len(componentNames) {
		return fmt.Sprintf("component(%d)", int(t))
	}
	return componentNames[t]
}

// ParseComponentType is the inverse of ComponentType.String.
func ParseComponentType(s string) (ComponentType, error) {
	for i, n := range componentNames {
		if strings.EqualFold(n, s) {
			return ComponentType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownComponent, s)
}

// Parameter is one output value of a component. Base is the unaffected value.
type Parameter struct {
	Name string
	Base float64
}

// Component groups the parameters of one ComponentType.
type Component struct {
	Type       ComponentType
	Parameters []*Parameter
}

// NewComponent creates a component with the default parameters of its type.
func NewComponent(t ComponentType) *Component {
	c := &Component{Type: t}
	switch t {
	case Intensity:
		c.Parameters = []*Parameter{{Name: "value"}}
	case Strobe:
		c.Parameters = []*Parameter{{Name: "rate"}}
	case Orientation:
		c.Parameters = []*Parameter{{Name: "pan", Base: 0.5}, {Name: "tilt", Base: 0.5}}
	case Custom:
		c.Parameters = []*Parameter{{Name: "value"}}
	}
	return c
}

// Parameter returns the parameter named name, or nil.
func (c *Component) Parameter(name string) *Parameter {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Values maps parameters to float values. Keys are parameter identities, not names.
type Values map[*Parameter]float64

// Object is a controlled fixture. Identity fields are set before the object is
// added to a Registry and are read-only afterwards; custom parameters and the
// resolved values may change at any time.
type Object struct {
	ID         int
	Name       string
	Groups     []string
	Position   [3]float64
	Components []*Component

	customMu sync.RWMutex
	custom   map[string]float64

	resolved atomic.Pointer[Values]
}

// New creates an object with one component per type, in the given order.
func New(id int, name string, types ...ComponentType) *Object {
	o := &Object{ID: id, Name: name, custom: map[string]float64{}}
	for _, t := range types {
		o.Components = append(o.Components, NewComponent(t))
	}
	return o
}

// Component returns the first component of type t, or nil.
func (o *Object) Component(t ComponentType) *Component {
	for _, c := range o.Components {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// InGroup reports whether the object belongs to group g.
func (o *Object) InGroup(g string) bool {
	for _, og := range o.Groups {
		if og == g {
			return true
		}
	}
	return false
}

// CustomParameter returns a custom parameter value and whether it exists.
func (o *Object) CustomParameter(name string) (float64, bool) {
	o.customMu.RLock()
	defer o.customMu.RUnlock()
	v, ok := o.custom[name]
	return v, ok
}

func (o *Object) SetCustomParameter(name string, v float64) {
	o.customMu.Lock()
	if o.custom == nil {
		o.custom = map[string]float64{}
	}
	o.custom[name] = v
	o.customMu.Unlock()
}

func (o *Object) DeleteCustomParameter(name string) {
	o.customMu.Lock()
	delete(o.custom, name)
	o.customMu.Unlock()
}

// BaseValues returns the unaffected value of every parameter.
func (o *Object) BaseValues() Values {
	v := make(Values)
	for _, c := range o.Components {
		for _, p := range c.Parameters {
			v[p] = p.Base
		}
	}
	return v
}

// SetResolved publishes the values of the last resolution pass. The map is
// copied so the caller may keep mutating its own.
func (o *Object) SetResolved(v Values) {
	cp := make(Values, len(v))
	for p, x := range v {
		cp[p] = x
	}
	o.resolved.Store(&cp)
}

// Resolved returns the last published values. Before the first pass it
// returns the base values. The returned map must not be modified.
func (o *Object) Resolved() Values {
	if v := o.resolved.Load(); v != nil {
		return *v
	}
	return o.BaseValues()
}

// ResolvedValue returns the published value of p, falling back to its base.
func (o *Object) ResolvedValue(p *Parameter) float64 {
	if v := o.resolved.Load(); v != nil {
		if x, ok := (*v)[p]; ok {
			return x
		}
	}
	return p.Base
}
