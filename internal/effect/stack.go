package effect

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"lightengine/internal/filter"
)

var ErrUnknownLayer = errors.New("unknown layer")

// Layer orders stacks in the evaluation chain of an object.
type Layer int

const (
	ObjectLayer Layer = iota
	SceneLayer
	SequenceLayer
	GroupLayer
	GlobalLayer
)

var layerNames = [...]string{"object", "scene", "sequence", "group", "global"}

func (l Layer) String() string {
	if l < 0 || int(l) >= len(layerNames) {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

func ParseLayer(s string) (Layer, error) {
	if s == "" {
		return GlobalLayer, nil
	}
	for i, n := range layerNames {
		if strings.EqualFold(n, s) {
			return Layer(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, s)
}

// Stack holds effects in declaration order. The order is never re-sorted.
type Stack struct {
	Name  string
	Layer Layer

	mu      sync.RWMutex
	effects []*Effect
}

func NewStack(name string, layer Layer) *Stack {
	return &Stack{Name: name, Layer: layer}
}

func (s *Stack) Add(e *Effect) {
	s.mu.Lock()
	s.effects = append(s.effects, e)
	s.mu.Unlock()
}

func (s *Stack) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.effects {
		if e.ID == id {
			s.effects = append(s.effects[:i:i], s.effects[i+1:]...)
			return true
		}
	}
	return false
}

// Effects returns a snapshot in declaration order.
func (s *Stack) Effects() []*Effect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Effect(nil), s.effects...)
}

// Prepare hands the pass session to every filter of the stack.
func (s *Stack) Prepare(sess filter.Session) {
	for _, e := range s.Effects() {
		if f := e.Filter(); f != nil {
			f.Prepare(sess)
		}
	}
}

// Advance moves the clock of every effect.
func (s *Stack) Advance(dt float64) {
	for _, e := range s.Effects() {
		e.Advance(dt)
	}
}

// SceneData snapshots every effect, keyed by effect id.
func (s *Stack) SceneData() filter.SceneData {
	d := filter.SceneData{}
	for _, e := range s.Effects() {
		d[e.ID] = e.SceneData()
	}
	return d
}

func (s *Stack) UpdateSceneData(d filter.SceneData) {
	for _, e := range s.Effects() {
		e.UpdateSceneData(d.Sub(e.ID))
	}
}

func (s *Stack) LerpFromSceneData(start, end filter.SceneData, w float64) {
	for _, e := range s.Effects() {
		e.LerpFromSceneData(start.Sub(e.ID), end.Sub(e.ID), w)
	}
}
