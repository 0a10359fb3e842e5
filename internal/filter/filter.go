// Package filter decides whether and how strongly an effect applies to an
// object component, and remaps the target id handed to the effect.
package filter

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"lightengine/internal/object"
)

var ErrInvalidIDMode = errors.New("invalid id mode")

// Result is produced once per object/component evaluation. ID -1 means the
// target id is unfiltered. Weight is not clamped here.
type Result struct {
	ID     int
	Weight float64
}

// DefaultResult is what an effect without a filter gets.
func DefaultResult() Result { return Result{ID: -1, Weight: 1} }

// NotAffecting is returned by Filter.Result for objects the filter does not affect.
var NotAffecting = Result{ID: -1, Weight: 0}

// IDMode selects how the id of a Result is remapped.
type IDMode int

const (
	NoChange IDMode = iota
	Local
	LocalReverse
	Randomized
)

var idModeNames = [...]string{"no-change", "local", "local-reverse", "randomized"}

func (m IDMode) String() string {
	if !m.valid() {
		return fmt.Sprintf("idmode(%d)", int(m))
	}
	return idModeNames[m]
}

func (m IDMode) valid() bool { return m >= NoChange && m <= Randomized }

// ParseIDMode accepts the names returned by IDMode.String. An empty string is NoChange.
func ParseIDMode(s string) (IDMode, error) {
	if s == "" {
		return NoChange, nil
	}
	for i, n := range idModeNames {
		if strings.EqualFold(n, s) {
			return IDMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidIDMode, s)
}

// Kind is the override point of concrete filters.
type Kind interface {
	Name() string
	// Affects must be a pure function of the kind configuration and the object.
	Affects(o *object.Object) bool
	Result(o *object.Object, c *object.Component) Result
	SceneData() SceneData
	UpdateSceneData(d SceneData)
	LerpFromSceneData(start, end SceneData, weight float64)
}

// Session is one blend pass of the engine. Objects is the registry snapshot
// evaluated in that pass, in declaration order.
type Session struct {
	Pass    uint64
	Seed    uint64
	Objects []*object.Object
}

// Filter is owned by an effect. A nil Kind affects every object with weight 1.
type Filter struct {
	ID string

	mu                sync.RWMutex
	idMode            IDMode
	invert            bool
	excludeFromScenes bool
	kind              Kind

	sessMu   sync.Mutex
	pass     uint64
	index    map[*object.Object]int
	matching int
	perm     []int
	permSeed uint64
	permSet  uint64
}

func New(kind Kind) *Filter {
	return &Filter{ID: uuid.NewString(), kind: kind}
}

func (f *Filter) Kind() Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.kind
}

func (f *Filter) IDMode() IDMode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.idMode
}

// SetIDMode rejects unknown modes and keeps the current one.
func (f *Filter) SetIDMode(m IDMode) error {
	if !m.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidIDMode, int(m))
	}
	f.mu.Lock()
	f.idMode = m
	f.mu.Unlock()
	return nil
}

func (f *Filter) Invert() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.invert
}

func (f *Filter) SetInvert(v bool) {
	f.mu.Lock()
	f.invert = v
	f.mu.Unlock()
}

func (f *Filter) ExcludeFromScenes() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.excludeFromScenes
}

func (f *Filter) SetExcludeFromScenes(v bool) {
	f.mu.Lock()
	f.excludeFromScenes = v
	f.mu.Unlock()
}

// IsAffectingObject is the cheap pre-filter. It never panics; a nil object is
// not affected.
func (f *Filter) IsAffectingObject(o *object.Object) bool {
	if o == nil {
		return false
	}
	k := f.Kind()
	if k == nil {
		return true
	}
	return k.Affects(o)
}

// Prepare caches the matching set (and the permutation for Randomized) for
// the pass. Calling it again for the same pass is a no-op.
func (f *Filter) Prepare(s Session) {
	f.sessMu.Lock()
	defer f.sessMu.Unlock()
	if f.index != nil && f.pass == s.Pass {
		return
	}

	f.pass = s.Pass
	f.index = make(map[*object.Object]int, len(s.Objects))
	set := xxhash.New()
	k := 0
	for _, o := range s.Objects {
		if !f.IsAffectingObject(o) {
			continue
		}
		f.index[o] = k
		fmt.Fprintf(set, "%d,", o.ID)
		k++
	}
	f.matching = k

	if f.IDMode() != Randomized {
		return
	}
	seed := xxhash.Sum64String(f.ID) ^ s.Seed
	setKey := set.Sum64()
	if f.perm != nil && len(f.perm) == k && f.permSeed == seed && f.permSet == setKey {
		return
	}
	f.perm = rand.New(rand.NewSource(int64(seed ^ setKey))).Perm(k)
	f.permSeed = seed
	f.permSet = setKey
}

// Result evaluates the kind, then applies invert and the id mode. Objects the
// filter does not affect get NotAffecting.
func (f *Filter) Result(o *object.Object, c *object.Component) Result {
	if !f.IsAffectingObject(o) {
		return NotAffecting
	}

	f.mu.RLock()
	kind, invert, mode := f.kind, f.invert, f.idMode
	f.mu.RUnlock()

	r := Result{ID: o.ID, Weight: 1}
	if kind != nil {
		r = kind.Result(o, c)
	}
	if invert {
		r.Weight = 1 - r.Weight
	}

	if mode == NoChange {
		return r
	}

	f.sessMu.Lock()
	defer f.sessMu.Unlock()
	idx, ok := f.index[o]
	if !ok {
		// matched after Prepare ran; the pass has no slot for it
		return r
	}
	switch mode {
	case Local:
		r.ID = idx
	case LocalReverse:
		r.ID = f.matching - 1 - idx
	case Randomized:
		if idx < len(f.perm) {
			r.ID = f.perm[idx]
		}
	}
	return r
}

// SceneData snapshots the scene-relevant state. Filters excluded from scenes
// return nil.
func (f *Filter) SceneData() SceneData {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.excludeFromScenes {
		return nil
	}
	d := SceneData{"invert": f.invert}
	if f.kind != nil {
		d["params"] = f.kind.SceneData()
	}
	return d
}

func (f *Filter) UpdateSceneData(d SceneData) {
	if d == nil || f.ExcludeFromScenes() {
		return
	}
	f.mu.Lock()
	if v, ok := d["invert"].(bool); ok {
		f.invert = v
	}
	kind := f.kind
	f.mu.Unlock()
	if kind != nil {
		kind.UpdateSceneData(d.Sub("params"))
	}
}

// LerpFromSceneData moves the filter between two snapshots; weight 0 gives
// start and weight 1 gives end.
func (f *Filter) LerpFromSceneData(start, end SceneData, weight float64) {
	if start == nil || end == nil || f.ExcludeFromScenes() {
		return
	}
	f.mu.Lock()
	if v, ok := LerpDiscrete(start["invert"], end["invert"], weight).(bool); ok {
		f.invert = v
	}
	kind := f.kind
	f.mu.Unlock()
	if kind != nil {
		kind.LerpFromSceneData(start.Sub("params"), end.Sub("params"), weight)
	}
}
