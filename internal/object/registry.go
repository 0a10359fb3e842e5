package object

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateObject = errors.New("object id already registered")
	ErrObjectNotFound  = errors.New("object not found")
)

// Registry keeps objects in declaration order. It is shared by the engine
// goroutine, the DMX interface and the HTTP surface.
type Registry struct {
	mu      sync.RWMutex
	objects []*Object
	byID    map[int]*Object
}

func NewRegistry() *Registry {
	return &Registry{byID: map[int]*Object{}}
}

func (r *Registry) Add(o *Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[o.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateObject, o.ID)
	}
	r.byID[o.ID] = o
	r.objects = append(r.objects, o)
	return nil
}

// Remove deletes the object. Effects and filters still pointing at it degrade
// to not affecting it.
func (r *Registry) Remove(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %d", ErrObjectNotFound, id)
	}
	delete(r.byID, id)
	for i, o := range r.objects {
		if o.ID == id {
			r.objects = append(r.objects[:i:i], r.objects[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Registry) Get(id int) (*Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	return o, ok
}

// Contains reports whether o is still registered.
func (r *Registry) Contains(o *Object) bool {
	if o == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[o.ID] == o
}

// Objects returns a snapshot in declaration order.
func (r *Registry) Objects() []*Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Object, len(r.objects))
	copy(out, r.objects)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
