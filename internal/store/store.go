// Package store holds the in-memory annotation graph of one document and
// enforces its identifier and dependency invariants.
package store

import (
	"fmt"
	"iter"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/apperr"
)

// handle is a stable arena slot. It never changes for the lifetime of an
// annotation, unlike its line position.
type handle int

// Store is the ordered collection of annotations for one document.
// It is not safe for concurrent use; sessions own exactly one Store.
type Store struct {
	arena    []annotation.Annotation // nil once deleted
	order    []handle
	lineOf   map[handle]int
	handleOf map[annotation.Annotation]handle
	byID     map[annotation.ID]handle
	maxNum   map[string]int
	failed   mapset.Set[int]

	readOnly bool
	modified time.Time
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		lineOf:   make(map[handle]int),
		handleOf: make(map[annotation.Annotation]handle),
		byID:     make(map[annotation.ID]handle),
		maxNum:   make(map[string]int),
		failed:   mapset.NewThreadUnsafeSet[int](),
		now:      time.Now,
	}
}

// SetReadOnly marks the store read-only; every later Add or Delete fails
// with apperr.ErrReadOnly.
func (s *Store) SetReadOnly(ro bool) { s.readOnly = ro }

// ReadOnly reports whether mutations are rejected.
func (s *Store) ReadOnly() bool { return s.readOnly }

// LastModified returns the time of the last successful Add or Delete.
// It strictly increases with every mutation and is zero for a store that
// has only been loaded.
func (s *Store) LastModified() time.Time { return s.modified }

// Len returns the number of lines.
func (s *Store) Len() int { return len(s.order) }

// MarkFailed records a 0-based line index that failed to parse.
func (s *Store) MarkFailed(line int) { s.failed.Add(line) }

// FailedLines returns the sorted indices of lines that failed to parse.
func (s *Store) FailedLines() []int {
	out := s.failed.ToSlice()
	slices.Sort(out)
	return out
}

// Load appends a freshly parsed annotation. It bypasses the read-only flag
// and does not touch LastModified. Equivs are stored as read, unmerged, so
// that an unmodified document serializes to its original bytes.
func (s *Store) Load(a annotation.Annotation) error {
	if _, dup := s.handleOf[a]; dup {
		return fmt.Errorf("store: annotation already stored: %s", a)
	}
	if ided, ok := a.(annotation.Identified); ok {
		if err := s.register(ided); err != nil {
			return err
		}
	}
	s.insert(a)
	return nil
}

// Add inserts a. An incoming Equiv sharing a member with an existing one
// is merged into it instead of being inserted.
func (s *Store) Add(a annotation.Annotation, tr Tracker) error {
	if s.readOnly {
		return apperr.ErrReadOnly
	}
	tr = orNop(tr)

	if q, ok := a.(*annotation.Equiv); ok {
		s.addEquiv(q, tr)
		s.touch()
		return nil
	}
	if err := s.Load(a); err != nil {
		return err
	}
	tr.Added(a)
	s.touch()
	return nil
}

func (s *Store) register(a annotation.Identified) error {
	id := a.ID()
	if _, dup := s.byID[id]; dup {
		return apperr.DuplicateID(id.String())
	}
	s.byID[id] = handle(len(s.arena))
	if id.Number > s.maxNum[id.Prefix] {
		s.maxNum[id.Prefix] = id.Number
	}
	return nil
}

func (s *Store) insert(a annotation.Annotation) handle {
	h := handle(len(s.arena))
	s.arena = append(s.arena, a)
	s.lineOf[h] = len(s.order)
	s.order = append(s.order, h)
	s.handleOf[a] = h
	return h
}

// addEquiv merges q into the first overlapping Equiv and keeps absorbing
// further Equivs until no two of them share a member.
func (s *Store) addEquiv(q *annotation.Equiv, tr Tracker) {
	host, ok := s.findEquiv(q, -1)
	if !ok {
		s.insert(q)
		tr.Added(q)
		return
	}
	hostEq := s.arena[host].(*annotation.Equiv)
	before := annotation.Clone(hostEq)
	changed := absorb(hostEq, q.Entities)

	for {
		other, ok := s.findEquiv(hostEq, host)
		if !ok {
			break
		}
		otherEq := s.arena[other].(*annotation.Equiv)
		absorb(hostEq, otherEq.Entities)
		changed = true
		s.remove(other)
		tr.Deleted(otherEq)
	}
	if changed {
		tr.Changed(before, hostEq)
	}
}

// findEquiv returns the first stored Equiv other than skip overlapping q.
func (s *Store) findEquiv(q *annotation.Equiv, skip handle) (handle, bool) {
	for _, h := range s.order {
		if h == skip {
			continue
		}
		if e, ok := s.arena[h].(*annotation.Equiv); ok && e.Overlaps(q) {
			return h, true
		}
	}
	return 0, false
}

func absorb(into *annotation.Equiv, ids []annotation.ID) bool {
	changed := false
	for _, id := range ids {
		if !into.Has(id) {
			into.Entities = append(into.Entities, id)
			changed = true
		}
	}
	return changed
}

// remove drops h from every index. Id counters are left untouched.
func (s *Store) remove(h handle) {
	a := s.arena[h]
	line := s.lineOf[h]
	s.order = slices.Delete(s.order, line, line+1)
	for i := line; i < len(s.order); i++ {
		s.lineOf[s.order[i]] = i
	}
	delete(s.lineOf, h)
	delete(s.handleOf, a)
	if ided, ok := a.(annotation.Identified); ok {
		delete(s.byID, ided.ID())
	}
	s.arena[h] = nil
}

func (s *Store) touch() {
	t := s.now()
	if !t.After(s.modified) {
		t = s.modified.Add(time.Nanosecond)
	}
	s.modified = t
}

// GetByID returns the annotation holding id.
func (s *Store) GetByID(id annotation.ID) (annotation.Identified, error) {
	h, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound(id.String())
	}
	return s.arena[h].(annotation.Identified), nil
}

// GetNewID returns the next unused id for prefix. It does not reserve the
// id: two calls without an intervening Add return the same value.
func (s *Store) GetNewID(prefix string) annotation.ID {
	return annotation.NewID(prefix, s.maxNum[prefix]+1)
}

// Line returns the line index of a, or -1 when a is not stored.
func (s *Store) Line(a annotation.Annotation) int {
	h, ok := s.handleOf[a]
	if !ok {
		return -1
	}
	return s.lineOf[h]
}

// All yields every annotation in line order.
func (s *Store) All() iter.Seq[annotation.Annotation] {
	return func(yield func(annotation.Annotation) bool) {
		for _, h := range slices.Clone(s.order) {
			if a := s.arena[h]; a != nil && !yield(a) {
				return
			}
		}
	}
}

func ofType[T annotation.Annotation](s *Store) iter.Seq[T] {
	return func(yield func(T) bool) {
		for a := range s.All() {
			if v, ok := a.(T); ok && !yield(v) {
				return
			}
		}
	}
}

// TextBounds yields text-bound annotations in line order.
func (s *Store) TextBounds() iter.Seq[*annotation.TextBound] { return ofType[*annotation.TextBound](s) }

// Events yields events in line order.
func (s *Store) Events() iter.Seq[*annotation.Event] { return ofType[*annotation.Event](s) }

// Modifiers yields modifiers in line order.
func (s *Store) Modifiers() iter.Seq[*annotation.Modifier] { return ofType[*annotation.Modifier](s) }

// Equivs yields equivalences in line order.
func (s *Store) Equivs() iter.Seq[*annotation.Equiv] { return ofType[*annotation.Equiv](s) }

// Notes yields notes in line order.
func (s *Store) Notes() iter.Seq[*annotation.Note] { return ofType[*annotation.Note](s) }

// Unparsed yields lines that failed to parse.
func (s *Store) Unparsed() iter.Seq[*annotation.Unparsed] { return ofType[*annotation.Unparsed](s) }

// Serialize renders every line terminated by "\n". An empty store
// serializes to no bytes.
func (s *Store) Serialize() []byte {
	var out []byte
	for a := range s.All() {
		out = append(out, a.String()...)
		out = append(out, '\n')
	}
	return out
}
