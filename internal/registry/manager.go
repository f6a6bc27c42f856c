package registry

import (
	"sync"

	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"

	"github.com/metal-toolbox/rackstab/internal/model"
)

// Store is the kind independent view of a Manager.
type Store interface {
	Kind() model.Kind
	Keys() []string
	KeysByParent(parentID string) []string
	Exists(id string) bool
	// Resource returns the stored resource itself, not a copy.
	Resource(id string) (model.Resource, error)
	Rename(oldID, newID string) error
	// ReplaceParent points every child of oldID at newID and returns how many changed.
	ReplaceParent(oldID, newID string) int
	Len() int
	Clear()
}

// Manager is an ordered, identifier keyed store of one resource kind.
//
// Iteration order is insertion order and a rename keeps the resource at its
// position.
type Manager[T model.Resource] struct {
	mu    sync.RWMutex
	kind  model.Kind
	order []string
	items map[string]T
}

func NewManager[T model.Resource](kind model.Kind) *Manager[T] {
	return &Manager[T]{
		kind:  kind,
		items: make(map[string]T),
	}
}

func (m *Manager[T]) Kind() model.Kind {
	return m.kind
}

func (m *Manager[T]) Add(res T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := res.GetID()
	if _, exists := m.items[id]; exists {
		return errors.Wrap(ErrDuplicateID, m.kind.String()+" "+id)
	}

	m.items[id] = res
	m.order = append(m.order, id)

	return nil
}

func (m *Manager[T]) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[id]; !exists {
		return errors.Wrap(ErrResourceNotFound, m.kind.String()+" "+id)
	}

	delete(m.items, id)

	for i, key := range m.order {
		if key == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	return nil
}

func (m *Manager[T]) Exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.items[id]

	return exists
}

// Get returns a deep copy of the resource; changes to it are not stored.
func (m *Manager[T]) Get(id string) (T, error) {
	var zero T

	res, err := m.GetRef(id)
	if err != nil {
		return zero, err
	}

	m.mu.RLock()
	cp, err := copystructure.Copy(res)
	m.mu.RUnlock()

	if err != nil {
		return zero, errors.Wrap(ErrCopy, err.Error())
	}

	copied, ok := cp.(T)
	if !ok {
		return zero, errors.Wrap(ErrCopy, "unexpected type for "+id)
	}

	return copied, nil
}

// GetRef returns the stored resource.
func (m *Manager[T]) GetRef(id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, exists := m.items[id]
	if !exists {
		var zero T
		return zero, errors.Wrap(ErrResourceNotFound, m.kind.String()+" "+id)
	}

	return res, nil
}

func (m *Manager[T]) Resource(id string) (model.Resource, error) {
	return m.GetRef(id)
}

func (m *Manager[T]) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, len(m.order))
	copy(keys, m.order)

	return keys
}

func (m *Manager[T]) KeysByParent(parentID string) []string {
	return m.KeysWhere(func(res T) bool {
		return res.GetParentID() == parentID
	})
}

func (m *Manager[T]) KeysWhere(match func(T) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string

	for _, id := range m.order {
		if match(m.items[id]) {
			keys = append(keys, id)
		}
	}

	return keys
}

// Rename moves the resource stored under oldID to newID and updates its ID.
func (m *Manager[T]) Rename(oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, exists := m.items[oldID]
	if !exists {
		return errors.Wrap(ErrResourceNotFound, m.kind.String()+" "+oldID)
	}

	if oldID == newID {
		return nil
	}

	if _, taken := m.items[newID]; taken {
		return errors.Wrap(ErrIDConflict, m.kind.String()+" "+oldID+" -> "+newID)
	}

	delete(m.items, oldID)
	res.SetID(newID)
	m.items[newID] = res

	for i, key := range m.order {
		if key == oldID {
			m.order[i] = newID
			break
		}
	}

	return nil
}

// Update applies fn to the stored resource while holding the store lock.
func (m *Manager[T]) Update(id string, fn func(T)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, exists := m.items[id]
	if !exists {
		return errors.Wrap(ErrResourceNotFound, m.kind.String()+" "+id)
	}

	fn(res)

	return nil
}

// UpdateAll applies fn to every resource; fn reports whether it changed the resource.
func (m *Manager[T]) UpdateAll(fn func(T) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int

	for _, id := range m.order {
		if fn(m.items[id]) {
			changed++
		}
	}

	return changed
}

func (m *Manager[T]) ReplaceParent(oldID, newID string) int {
	return m.UpdateAll(func(res T) bool {
		if res.GetParentID() != oldID {
			return false
		}

		res.SetParentID(newID)

		return true
	})
}

func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.order)
}

func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order = nil
	m.items = make(map[string]T)
}

// List returns the stored resources in order. The slice is a snapshot, the
// resources are not copies.
func (m *Manager[T]) List() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]T, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.items[id])
	}

	return list
}
