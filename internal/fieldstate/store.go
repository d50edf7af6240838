package fieldstate

import (
	"slices"
	"sync"
)

// SingleValue is the committed state of a single-value field. Either all of
// ID/Name/Type are set, or none are (Set reports which).
type SingleValue struct {
	ID   string
	Name string
	Type string
	Set  bool
}

// MultiValue is a snapshot of a multi-value field. IDs preserves insertion
// order; Names and Types always carry exactly the same keys as IDs.
type MultiValue struct {
	IDs   []string
	Names map[string]string
	Types map[string]string
}

// Listener observes committed field mutations. It is called after the
// mutation has fully applied, outside the store lock.
type Listener func(field string)

// Store holds attachment field state for one record, keyed by field name.
//
// Every mutating method updates the id list and both hash maps in one
// critical section, so observers never see a partially applied change.
type Store struct {
	mu     sync.Mutex
	single map[string]SingleValue
	multi  map[string]*multiState

	listenerMu sync.Mutex
	listeners  []Listener
}

type multiState struct {
	ids   []string
	names map[string]string
	types map[string]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		single: make(map[string]SingleValue),
		multi:  make(map[string]*multiState),
	}
}

// OnChange registers a listener for committed mutations.
func (s *Store) OnChange(fn Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

// SetSingle commits id, name and type to a single-value field together.
func (s *Store) SetSingle(field, id, name, typ string) {
	s.mu.Lock()
	s.single[field] = SingleValue{ID: id, Name: name, Type: typ, Set: true}
	s.mu.Unlock()

	s.notify(field)
}

// ClearSingle clears all three slots of a single-value field together.
func (s *Store) ClearSingle(field string) {
	s.mu.Lock()
	s.single[field] = SingleValue{}
	s.mu.Unlock()

	s.notify(field)
}

// Single returns the committed state of a single-value field.
func (s *Store) Single(field string) SingleValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.single[field]
}

// AddToMulti appends an attachment to a multi-value field. Adding an id that
// is already present updates its name and type without duplicating the id.
func (s *Store) AddToMulti(field, id, name, typ string) {
	s.mu.Lock()
	m := s.multiLocked(field)
	if _, ok := m.names[id]; !ok {
		m.ids = append(m.ids, id)
	}
	m.names[id] = name
	m.types[id] = typ
	s.mu.Unlock()

	s.notify(field)
}

// RemoveFromMulti removes an attachment from a multi-value field, preserving
// the relative order of the remaining ids. Removing an absent id is a no-op.
func (s *Store) RemoveFromMulti(field, id string) {
	s.mu.Lock()
	m := s.multiLocked(field)
	if _, ok := m.names[id]; !ok {
		s.mu.Unlock()
		return
	}
	m.ids = slices.DeleteFunc(m.ids, func(v string) bool { return v == id })
	delete(m.names, id)
	delete(m.types, id)
	s.mu.Unlock()

	s.notify(field)
}

// ClearMulti empties a multi-value field.
func (s *Store) ClearMulti(field string) {
	s.mu.Lock()
	s.multi[field] = newMultiState()
	s.mu.Unlock()

	s.notify(field)
}

// Multi returns a snapshot of a multi-value field. The returned slice and
// maps are copies; mutating them does not affect the store.
func (s *Store) Multi(field string) MultiValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.multiLocked(field)
	out := MultiValue{
		IDs:   slices.Clone(m.ids),
		Names: make(map[string]string, len(m.names)),
		Types: make(map[string]string, len(m.types)),
	}
	for k, v := range m.names {
		out.Names[k] = v
	}
	for k, v := range m.types {
		out.Types[k] = v
	}
	return out
}

func (s *Store) multiLocked(field string) *multiState {
	m, ok := s.multi[field]
	if !ok {
		m = newMultiState()
		s.multi[field] = m
	}
	return m
}

func newMultiState() *multiState {
	return &multiState{
		names: make(map[string]string),
		types: make(map[string]string),
	}
}

func (s *Store) notify(field string) {
	s.listenerMu.Lock()
	listeners := slices.Clone(s.listeners)
	s.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(field)
	}
}
