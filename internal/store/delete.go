package store

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/apperr"
)

// deletePlan is the full effect of one Delete, computed before anything
// is mutated so that a blocked cascade leaves the store untouched.
type deletePlan struct {
	remove []handle                             // dependents first, target last
	shrink map[handle]mapset.Set[annotation.ID] // equiv -> members to drop
	queued mapset.Set[handle]
}

// Delete removes a. Modifiers, notes and equivs referencing a are cleaned
// up with it; any other dependent blocks the deletion with a
// *apperr.DependingAnnotationError and nothing is changed.
func (s *Store) Delete(a annotation.Annotation, tr Tracker) error {
	if s.readOnly {
		return apperr.ErrReadOnly
	}
	tr = orNop(tr)

	h, ok := s.lookup(a)
	if !ok {
		return apperr.NotFound(a.String())
	}
	plan, err := s.plan(h)
	if err != nil {
		return err
	}
	s.apply(plan, tr)
	s.touch()
	return nil
}

// lookup finds the handle of a by identity, falling back to its id.
func (s *Store) lookup(a annotation.Annotation) (handle, bool) {
	if h, ok := s.handleOf[a]; ok {
		return h, true
	}
	if ided, ok := a.(annotation.Identified); ok {
		h, ok := s.byID[ided.ID()]
		return h, ok
	}
	return 0, false
}

// Dependents returns every stored annotation referencing id, softly or
// hardly, in line order.
func (s *Store) Dependents(id annotation.ID) []annotation.Annotation {
	var out []annotation.Annotation
	for _, h := range s.dependents(id, -1) {
		out = append(out, s.arena[h])
	}
	return out
}

func (s *Store) dependents(id annotation.ID, self handle) []handle {
	var out []handle
	for _, h := range s.order {
		if h == self {
			continue
		}
		if annotation.References(s.arena[h], id) {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) plan(target handle) (*deletePlan, error) {
	p := &deletePlan{
		shrink: make(map[handle]mapset.Set[annotation.ID]),
		queued: mapset.NewThreadUnsafeSet(target),
	}
	var removed []handle
	queue := []handle{target}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		removed = append(removed, h)

		ided, ok := s.arena[h].(annotation.Identified)
		if !ok {
			continue
		}
		id := ided.ID()

		var blockers []string
		var cascade []handle
		for _, d := range s.dependents(id, h) {
			if p.queued.Contains(d) {
				continue
			}
			switch dep := s.arena[d].(type) {
			case *annotation.Modifier, *annotation.Note:
				cascade = append(cascade, d)
			case *annotation.Equiv:
				if p.shrink[d] == nil {
					p.shrink[d] = mapset.NewThreadUnsafeSet[annotation.ID]()
				}
				p.shrink[d].Add(id)
			case annotation.Identified:
				blockers = append(blockers, dep.ID().String())
			default:
				blockers = append(blockers, dep.String())
			}
		}
		if len(blockers) > 0 {
			return nil, &apperr.DependingAnnotationError{Target: id.String(), Dependents: blockers}
		}
		for _, d := range cascade {
			p.queued.Add(d)
			queue = append(queue, d)
		}
	}
	slices.Reverse(removed)
	p.remove = removed
	return p, nil
}

func (s *Store) apply(p *deletePlan, tr Tracker) {
	equivs := make([]handle, 0, len(p.shrink))
	for eh := range p.shrink {
		equivs = append(equivs, eh)
	}
	slices.SortFunc(equivs, func(a, b handle) int { return s.lineOf[a] - s.lineOf[b] })

	for _, eh := range equivs {
		drop := p.shrink[eh]
		q := s.arena[eh].(*annotation.Equiv)
		kept := slices.DeleteFunc(slices.Clone(q.Entities), func(id annotation.ID) bool {
			return drop.Contains(id)
		})
		if len(kept) < 2 {
			s.remove(eh)
			tr.Deleted(q)
			continue
		}
		before := annotation.Clone(q)
		q.Entities = kept
		tr.Changed(before, q)
	}
	for _, h := range p.remove {
		a := s.arena[h]
		s.remove(h)
		tr.Deleted(a)
	}
}
