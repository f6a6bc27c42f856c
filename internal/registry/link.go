package registry

import (
	"sync"
)

// Edge is one (A, B) pair of a many to many link.
type Edge struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Link is a set of edges between two resource kinds. A is the owning side,
// for example the zone of a zone to endpoint link.
type Link struct {
	mu    sync.RWMutex
	name  string
	edges []Edge
}

func NewLink(name string) *Link {
	return &Link{name: name}
}

func (l *Link) Name() string {
	return l.name
}

// Add inserts the edge unless it is already present.
func (l *Link) Add(a, b string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.indexOf(a, b) >= 0 {
		return
	}

	l.edges = append(l.edges, Edge{A: a, B: b})
}

func (l *Link) Remove(a, b string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexOf(a, b)
	if idx < 0 {
		return false
	}

	l.edges = append(l.edges[:idx], l.edges[idx+1:]...)

	return true
}

func (l *Link) Exists(a, b string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.indexOf(a, b) >= 0
}

// ChildrenOf returns the B side of every edge starting at a.
func (l *Link) ChildrenOf(a string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string

	for _, edge := range l.edges {
		if edge.A == a {
			ids = append(ids, edge.B)
		}
	}

	return ids
}

// ParentsOf returns the A side of every edge ending at b.
func (l *Link) ParentsOf(b string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []string

	for _, edge := range l.edges {
		if edge.B == b {
			ids = append(ids, edge.A)
		}
	}

	return ids
}

// RenameA replaces oldID with newID on the A side. Edges that become
// duplicates are collapsed.
func (l *Link) RenameA(oldID, newID string) int {
	return l.rename(oldID, newID, func(e *Edge) *string { return &e.A })
}

// RenameB replaces oldID with newID on the B side.
func (l *Link) RenameB(oldID, newID string) int {
	return l.rename(oldID, newID, func(e *Edge) *string { return &e.B })
}

func (l *Link) rename(oldID, newID string, side func(*Edge) *string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if oldID == newID {
		return 0
	}

	var changed int

	edges := l.edges[:0]
	for _, edge := range l.edges {
		if id := side(&edge); *id == oldID {
			*id = newID
			changed++
		}

		if !containsEdge(edges, edge) {
			edges = append(edges, edge)
		}
	}

	l.edges = edges

	return changed
}

func (l *Link) Edges() []Edge {
	l.mu.RLock()
	defer l.mu.RUnlock()

	edges := make([]Edge, len(l.edges))
	copy(edges, l.edges)

	return edges
}

func (l *Link) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.edges)
}

func (l *Link) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.edges = nil
}

func (l *Link) indexOf(a, b string) int {
	for i, edge := range l.edges {
		if edge.A == a && edge.B == b {
			return i
		}
	}

	return -1
}

func containsEdge(edges []Edge, edge Edge) bool {
	for _, e := range edges {
		if e == edge {
			return true
		}
	}

	return false
}
