package store

import "github.com/starford/annostore/internal/annotation"

// Tracker observes the effects of Add and Delete, including the cascaded
// ones. It is optional and never affects the outcome of a mutation.
type Tracker interface {
	Added(a annotation.Annotation)
	Changed(before, after annotation.Annotation)
	Deleted(a annotation.Annotation)
}

// ChangeKind classifies a recorded change.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeChanged ChangeKind = "changed"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is one entry of a changelog. Before is nil for additions and
// After is nil for deletions. Both are snapshots.
type Change struct {
	Kind   ChangeKind
	Before annotation.Annotation
	After  annotation.Annotation
}

// Recorder is a Tracker that keeps an ordered changelog.
type Recorder struct {
	changes []Change
}

func (r *Recorder) Added(a annotation.Annotation) {
	r.changes = append(r.changes, Change{Kind: ChangeAdded, After: annotation.Clone(a)})
}

func (r *Recorder) Changed(before, after annotation.Annotation) {
	r.changes = append(r.changes, Change{Kind: ChangeChanged, Before: annotation.Clone(before), After: annotation.Clone(after)})
}

func (r *Recorder) Deleted(a annotation.Annotation) {
	r.changes = append(r.changes, Change{Kind: ChangeDeleted, Before: annotation.Clone(a)})
}

// Changes returns the recorded changes in order.
func (r *Recorder) Changes() []Change { return r.changes }

// Reset drops everything recorded so far.
func (r *Recorder) Reset() { r.changes = nil }

type tee []Tracker

func (t tee) Added(a annotation.Annotation) {
	for _, tr := range t {
		tr.Added(a)
	}
}

func (t tee) Changed(before, after annotation.Annotation) {
	for _, tr := range t {
		tr.Changed(before, after)
	}
}

func (t tee) Deleted(a annotation.Annotation) {
	for _, tr := range t {
		tr.Deleted(a)
	}
}

// Tee returns a Tracker forwarding to every non-nil tracker in trs.
func Tee(trs ...Tracker) Tracker {
	var out tee
	for _, tr := range trs {
		if tr != nil {
			out = append(out, tr)
		}
	}
	return out
}

type nopTracker struct{}

func (nopTracker) Added(annotation.Annotation)                       {}
func (nopTracker) Changed(annotation.Annotation, annotation.Annotation) {}
func (nopTracker) Deleted(annotation.Annotation)                     {}

func orNop(tr Tracker) Tracker {
	if tr == nil {
		return nopTracker{}
	}
	return tr
}
