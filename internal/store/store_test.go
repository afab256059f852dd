package store_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/apperr"
	"github.com/starford/annostore/internal/parser"
	"github.com/starford/annostore/internal/store"
)

func id(t *testing.T, s string) annotation.ID {
	t.Helper()
	v, err := annotation.ParseID(s)
	require.NoError(t, err)
	return v
}

func load(t *testing.T, doc string) *store.Store {
	t.Helper()
	s := parser.Parse([]byte(doc))
	require.Empty(t, s.FailedLines(), "fixture should parse cleanly")
	return s
}

func get(t *testing.T, s *store.Store, text string) annotation.Identified {
	t.Helper()
	a, err := s.GetByID(id(t, text))
	require.NoError(t, err)
	return a
}

func TestAddAndGet(t *testing.T) {
	s := store.New()
	tb := annotation.NewTextBound(id(t, "T1"), "Protein", 10, 14, "p53")
	require.NoError(t, s.Add(tb, nil))

	got, err := s.GetByID(id(t, "T1"))
	require.NoError(t, err)
	assert.Same(t, tb, got)
	assert.Equal(t, 0, s.Line(tb))

	_, err = s.GetByID(id(t, "T2"))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAddDuplicateID(t *testing.T) {
	s := load(t, "T1\tProtein 0 3\tp53\n")
	err := s.Add(annotation.NewTextBound(id(t, "T1"), "Gene", 4, 8, "brca"), nil)
	assert.True(t, errors.Is(err, apperr.ErrDuplicateID))
	assert.Equal(t, 1, s.Len())
}

func TestGetNewIDMonotonic(t *testing.T) {
	s := load(t, "T1\tProtein 0 3\tp53\nT4\tProtein 5 8\tfoo\n")
	assert.Equal(t, "T5", s.GetNewID("T").String())
	assert.Equal(t, "T5", s.GetNewID("T").String(), "GetNewID must not reserve")
	assert.Equal(t, "E1", s.GetNewID("E").String())

	require.NoError(t, s.Delete(get(t, s, "T4"), nil))
	assert.Equal(t, "T5", s.GetNewID("T").String(), "deleted ids are never reissued")

	fresh := s.GetNewID("T")
	require.NoError(t, s.Add(annotation.NewTextBound(fresh, "Protein", 9, 10, "x"), nil))
	assert.Equal(t, "T6", s.GetNewID("T").String())
}

func TestEquivMergeClosure(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\nT3\tP 4 5\tc\n")
	rec := &store.Recorder{}

	require.NoError(t, s.Add(annotation.NewEquiv(id(t, "T1"), id(t, "T2")), rec))
	require.NoError(t, s.Add(annotation.NewEquiv(id(t, "T2"), id(t, "T3")), rec))

	var equivs []*annotation.Equiv
	for q := range s.Equivs() {
		equivs = append(equivs, q)
	}
	require.Len(t, equivs, 1)
	assert.Equal(t, "*\tEquiv T1 T2 T3", equivs[0].String())

	changes := rec.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, store.ChangeAdded, changes[0].Kind)
	assert.Equal(t, store.ChangeChanged, changes[1].Kind)
	assert.Equal(t, "*\tEquiv T1 T2", changes[1].Before.String())
}

func TestEquivMergeCascade(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\nT3\tP 4 5\tc\nT4\tP 6 7\td\n"+
		"*\tEquiv T1 T2\n*\tEquiv T3 T4\n")
	rec := &store.Recorder{}

	require.NoError(t, s.Add(annotation.NewEquiv(id(t, "T2"), id(t, "T3")), rec))

	var equivs []string
	for q := range s.Equivs() {
		equivs = append(equivs, q.String())
	}
	assert.Equal(t, []string{"*\tEquiv T1 T2 T3 T4"}, equivs)
	assert.Equal(t, 5, s.Len())

	kinds := []store.ChangeKind{}
	for _, c := range rec.Changes() {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []store.ChangeKind{store.ChangeDeleted, store.ChangeChanged}, kinds)
}

func TestEquivRedundantNotInserted(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\n*\tEquiv T1 T2\n")
	rec := &store.Recorder{}
	require.NoError(t, s.Add(annotation.NewEquiv(id(t, "T2"), id(t, "T1")), rec))
	assert.Equal(t, 3, s.Len())
	assert.Empty(t, rec.Changes())
}

func TestDeleteBlockedByEvent(t *testing.T) {
	s := load(t, "T1\tProtein 0 3\tp53\nT2\tBinding 4 11\tbinding\nE1\tBinding:T2 Theme:T1\n")
	before := string(s.Serialize())

	err := s.Delete(get(t, s, "T1"), nil)
	require.Error(t, err)
	var dep *apperr.DependingAnnotationError
	require.True(t, errors.As(err, &dep))
	assert.Equal(t, "T1", dep.Target)
	assert.Equal(t, []string{"E1"}, dep.Dependents)
	assert.Equal(t, before, string(s.Serialize()), "blocked delete must not mutate")

	require.NoError(t, s.Delete(get(t, s, "E1"), nil))
	require.NoError(t, s.Delete(get(t, s, "T1"), nil))
	assert.Equal(t, "T2\tBinding 4 11\tbinding\n", string(s.Serialize()))
}

func TestDeleteBlockedBySoftEventArg(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\nT3\tT 4 5\tc\nE1\tX:T3 A:T1 B:T2\n")
	err := s.Delete(get(t, s, "T1"), nil)
	assert.True(t, errors.Is(err, apperr.ErrDepending))
}

func TestDeleteCascades(t *testing.T) {
	s := load(t, "T1\tProtein 0 3\tp53\nM1\tNegation T1\n#1\tAnnotatorNotes T1\tcheck this\nT2\tProtein 5 8\tfoo\n")
	rec := &store.Recorder{}

	require.NoError(t, s.Delete(get(t, s, "T1"), rec))
	assert.Equal(t, "T2\tProtein 5 8\tfoo\n", string(s.Serialize()))

	for _, gone := range []string{"T1", "M1", "#1"} {
		_, err := s.GetByID(id(t, gone))
		assert.True(t, errors.Is(err, apperr.ErrNotFound), gone)
	}
	require.Len(t, rec.Changes(), 3)
	assert.Equal(t, "T1\tProtein 0 3\tp53", rec.Changes()[2].Before.String())
}

func TestDeleteNestedCascade(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nM1\tNeg T1\n#1\tAnnotatorNotes M1\tnote on modifier\n")
	require.NoError(t, s.Delete(get(t, s, "T1"), nil))
	assert.Zero(t, s.Len())
}

func TestDeleteNestedBlockerLeavesStoreIntact(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nM1\tNeg T1\nT2\tP 2 3\tb\nE1\tX:T2 Arg:M1\n")
	before := string(s.Serialize())
	err := s.Delete(get(t, s, "T1"), nil)
	var dep *apperr.DependingAnnotationError
	require.True(t, errors.As(err, &dep))
	assert.Equal(t, "M1", dep.Target)
	assert.Equal(t, before, string(s.Serialize()))
}

func TestDeleteShrinksEquiv(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\nT3\tP 4 5\tc\n*\tEquiv T1 T2 T3\n")
	require.NoError(t, s.Delete(get(t, s, "T1"), nil))
	assert.Contains(t, string(s.Serialize()), "*\tEquiv T2 T3\n")

	require.NoError(t, s.Delete(get(t, s, "T2"), nil))
	assert.NotContains(t, string(s.Serialize()), "Equiv", "equiv below two members is removed")
	assert.Equal(t, "T3\tP 4 5\tc\n", string(s.Serialize()))
}

func TestDeleteUnidentified(t *testing.T) {
	s := parser.Parse([]byte("T1\tP 0 1\ta\nnot a line\n"))
	var bad *annotation.Unparsed
	for u := range s.Unparsed() {
		bad = u
	}
	require.NotNil(t, bad)
	require.NoError(t, s.Delete(bad, nil))
	assert.Equal(t, "T1\tP 0 1\ta\n", string(s.Serialize()))
}

func TestDeleteByIDFallback(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\n")
	require.NoError(t, s.Delete(annotation.NewTextBound(id(t, "T1"), "P", 0, 1, "a"), nil))
	assert.Zero(t, s.Len())
}

func TestReadOnly(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\n")
	s.SetReadOnly(true)
	assert.True(t, errors.Is(s.Add(annotation.NewTextBound(id(t, "T2"), "P", 1, 2, "b"), nil), apperr.ErrReadOnly))
	assert.True(t, errors.Is(s.Delete(get(t, s, "T1"), nil), apperr.ErrReadOnly))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.LastModified().IsZero())
}

func TestLastModifiedAdvances(t *testing.T) {
	s := store.New()
	assert.True(t, s.LastModified().IsZero())

	require.NoError(t, s.Add(annotation.NewTextBound(id(t, "T1"), "P", 0, 1, "a"), nil))
	first := s.LastModified()
	require.NoError(t, s.Add(annotation.NewTextBound(id(t, "T2"), "P", 1, 2, "b"), nil))
	second := s.LastModified()
	assert.True(t, second.After(first))

	require.NoError(t, s.Delete(get(t, s, "T2"), nil))
	assert.True(t, s.LastModified().After(second))
}

func TestLineIndexAfterDelete(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\nT3\tP 4 5\tc\n")
	t3 := get(t, s, "T3")
	assert.Equal(t, 2, s.Line(t3))
	require.NoError(t, s.Delete(get(t, s, "T1"), nil))
	assert.Equal(t, 1, s.Line(t3))
	assert.Equal(t, -1, s.Line(annotation.NewTextBound(id(t, "T9"), "P", 0, 1, "z")))
}

func TestIDUniquenessAfterMixedOps(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\n")
	for i := 0; i < 5; i++ {
		nid := s.GetNewID("T")
		require.NoError(t, s.Add(annotation.NewTextBound(nid, "P", i, i+1, "x"), nil))
		if i%2 == 0 {
			require.NoError(t, s.Delete(get(t, s, nid.String()), nil))
		}
	}
	seen := map[annotation.ID]bool{}
	for a := range s.All() {
		ided, ok := a.(annotation.Identified)
		if !ok {
			continue
		}
		assert.False(t, seen[ided.ID()], "duplicate %s", ided.ID())
		seen[ided.ID()] = true
	}
	assert.Equal(t, "T8", s.GetNewID("T").String())
}

func TestDependents(t *testing.T) {
	s := load(t, "T1\tP 0 1\ta\nT2\tP 2 3\tb\nE1\tX:T2 A:T1\nM1\tNeg T1\n")
	var ids []string
	for _, d := range s.Dependents(id(t, "T1")) {
		ids = append(ids, d.(annotation.Identified).ID().String())
	}
	assert.Equal(t, []string{"E1", "M1"}, ids)
}

func TestTee(t *testing.T) {
	a, b := &store.Recorder{}, &store.Recorder{}
	s := store.New()
	require.NoError(t, s.Add(annotation.NewTextBound(id(t, "T1"), "P", 0, 1, "a"), store.Tee(a, nil, b)))
	assert.Len(t, a.Changes(), 1)
	assert.Len(t, b.Changes(), 1)
}
