package filter

import (
	"math"
	"sync"

	"lightengine/internal/object"
)

// GroupKind affects objects belonging to at least one of its groups.
type GroupKind struct {
	mu     sync.RWMutex
	groups []string
}

func NewGroupKind(groups ...string) *GroupKind {
	return &GroupKind{groups: append([]string(nil), groups...)}
}

func (*GroupKind) Name() string { return "group" }

func (k *GroupKind) Groups() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.groups...)
}

func (k *GroupKind) SetGroups(groups ...string) {
	k.mu.Lock()
	k.groups = append([]string(nil), groups...)
	k.mu.Unlock()
}

func (k *GroupKind) Affects(o *object.Object) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, g := range k.groups {
		if o.InGroup(g) {
			return true
		}
	}
	return false
}

func (k *GroupKind) Result(o *object.Object, _ *object.Component) Result {
	return Result{ID: o.ID, Weight: 1}
}

func (k *GroupKind) SceneData() SceneData {
	return SceneData{"groups": k.Groups()}
}

func (k *GroupKind) UpdateSceneData(d SceneData) {
	if g, ok := toStrings(d["groups"]); ok {
		k.SetGroups(g...)
	}
}

func (k *GroupKind) LerpFromSceneData(start, end SceneData, w float64) {
	if g, ok := toStrings(LerpDiscrete(start["groups"], end["groups"], w)); ok {
		k.SetGroups(g...)
	}
}

func toStrings(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// DistanceKind affects objects within Radius of Center. Weight is 1 in the
// inner part and falls linearly to 0 over the outer Fade fraction of the radius.
type DistanceKind struct {
	mu     sync.RWMutex
	center [3]float64
	radius float64
	fade   float64
}

func NewDistanceKind(center [3]float64, radius, fade float64) *DistanceKind {
	return &DistanceKind{center: center, radius: radius, fade: fade}
}

func (*DistanceKind) Name() string { return "distance" }

func (k *DistanceKind) distance(o *object.Object) float64 {
	var sum float64
	for i := range k.center {
		d := o.Position[i] - k.center[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (k *DistanceKind) Affects(o *object.Object) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.radius > 0 && k.distance(o) <= k.radius
}

func (k *DistanceKind) Result(o *object.Object, _ *object.Component) Result {
	k.mu.RLock()
	defer k.mu.RUnlock()
	d := k.distance(o)
	inner := k.radius * (1 - k.fade)
	if k.fade <= 0 || d <= inner {
		return Result{ID: o.ID, Weight: 1}
	}
	return Result{ID: o.ID, Weight: 1 - (d-inner)/(k.radius-inner)}
}

func (k *DistanceKind) SceneData() SceneData {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return SceneData{
		"x":      k.center[0],
		"y":      k.center[1],
		"z":      k.center[2],
		"radius": k.radius,
		"fade":   k.fade,
	}
}

func (k *DistanceKind) UpdateSceneData(d SceneData) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, key := range []string{"x", "y", "z"} {
		if v, ok := d.Float(key); ok {
			k.center[i] = v
		}
	}
	if v, ok := d.Float("radius"); ok {
		k.radius = v
	}
	if v, ok := d.Float("fade"); ok {
		k.fade = v
	}
}

func (k *DistanceKind) LerpFromSceneData(start, end SceneData, w float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, key := range []string{"x", "y", "z"} {
		if v, ok := lerpFloat(start, end, key, w); ok {
			k.center[i] = v
		}
	}
	if v, ok := lerpFloat(start, end, "radius", w); ok {
		k.radius = v
	}
	if v, ok := lerpFloat(start, end, "fade", w); ok {
		k.fade = v
	}
}

// CustomParameterKind weights objects by one of their custom parameters.
// Objects without that parameter (or after it was deleted) are not affected.
type CustomParameterKind struct {
	mu        sync.RWMutex
	parameter string
	scale     float64
}

func NewCustomParameterKind(parameter string, scale float64) *CustomParameterKind {
	return &CustomParameterKind{parameter: parameter, scale: scale}
}

func (*CustomParameterKind) Name() string { return "custom" }

func (k *CustomParameterKind) Affects(o *object.Object) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.parameter == "" {
		return false
	}
	_, ok := o.CustomParameter(k.parameter)
	return ok
}

func (k *CustomParameterKind) Result(o *object.Object, _ *object.Component) Result {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := o.CustomParameter(k.parameter)
	if !ok {
		return NotAffecting
	}
	return Result{ID: o.ID, Weight: v * k.scale}
}

func (k *CustomParameterKind) SceneData() SceneData {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return SceneData{"parameter": k.parameter, "scale": k.scale}
}

func (k *CustomParameterKind) UpdateSceneData(d SceneData) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if p, ok := d["parameter"].(string); ok {
		k.parameter = p
	}
	if v, ok := d.Float("scale"); ok {
		k.scale = v
	}
}

func (k *CustomParameterKind) LerpFromSceneData(start, end SceneData, w float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if p, ok := LerpDiscrete(start["parameter"], end["parameter"], w).(string); ok {
		k.parameter = p
	}
	if v, ok := lerpFloat(start, end, "scale", w); ok {
		k.scale = v
	}
}
