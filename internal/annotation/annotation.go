// Package annotation defines the stand-off annotation graph: identifiers,
// the annotation variants, and the dependencies between them.
package annotation

import (
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Kind names an annotation variant.
type Kind string

const (
	KindTextBound Kind = "textbound"
	KindEvent     Kind = "event"
	KindModifier  Kind = "modifier"
	KindEquiv     Kind = "equiv"
	KindNote      Kind = "note"
	KindUnparsed  Kind = "unparsed"
)

// EquivType is the only type accepted on equiv lines.
const EquivType = "Equiv"

// Annotation is one line of an annotation file. The set of implementations
// is closed: *TextBound, *Event, *Modifier, *Equiv, *Note and *Unparsed.
type Annotation interface {
	Kind() Kind
	// Dependencies returns the ids this annotation references. Hard
	// dependencies must be resolved when the referenced id is deleted;
	// soft ones are advisory.
	Dependencies() (soft, hard mapset.Set[ID])
	// String renders the annotation in line format, without terminator.
	String() string

	sealed()
}

// Identified is an annotation that carries an id and may be referenced.
type Identified interface {
	Annotation
	ID() ID
}

func emptyDeps() (mapset.Set[ID], mapset.Set[ID]) {
	return mapset.NewThreadUnsafeSet[ID](), mapset.NewThreadUnsafeSet[ID]()
}

// TextBound marks the span [Start, End) of the document text.
type TextBound struct {
	id    ID
	Type  string
	Start int
	End   int
	// Tail holds everything after the offsets, normally "\t" + text.
	Tail string
}

// NewTextBound returns a text-bound annotation covering text.
func NewTextBound(id ID, typ string, start, end int, text string) *TextBound {
	return &TextBound{id: id, Type: typ, Start: start, End: end, Tail: "\t" + text}
}

func (t *TextBound) ID() ID     { return t.id }
func (t *TextBound) Kind() Kind { return KindTextBound }
func (t *TextBound) sealed()    {}

// Text returns the covered text recorded on the line.
func (t *TextBound) Text() string { return strings.TrimPrefix(t.Tail, "\t") }

func (t *TextBound) Dependencies() (mapset.Set[ID], mapset.Set[ID]) { return emptyDeps() }

func (t *TextBound) String() string {
	return t.id.String() + "\t" + t.Type + " " + strconv.Itoa(t.Start) + " " + strconv.Itoa(t.End) + t.Tail
}

// Arg is one role-labelled event argument.
type Arg struct {
	Role   string
	Target ID
}

// Event links a trigger span to its arguments.
type Event struct {
	id      ID
	Type    string
	Trigger ID
	Args    []Arg
	Tail    string
}

// NewEvent returns an event annotation.
func NewEvent(id ID, typ string, trigger ID, args ...Arg) *Event {
	return &Event{id: id, Type: typ, Trigger: trigger, Args: args}
}

func (e *Event) ID() ID     { return e.id }
func (e *Event) Kind() Kind { return KindEvent }
func (e *Event) sealed()    {}

// Dependencies: the trigger is always hard. A single argument is hard;
// with several arguments each one is soft.
func (e *Event) Dependencies() (mapset.Set[ID], mapset.Set[ID]) {
	soft, hard := emptyDeps()
	hard.Add(e.Trigger)
	if len(e.Args) == 1 {
		hard.Add(e.Args[0].Target)
		return soft, hard
	}
	for _, a := range e.Args {
		soft.Add(a.Target)
	}
	return soft, hard
}

func (e *Event) String() string {
	var b strings.Builder
	b.WriteString(e.id.String())
	b.WriteByte('\t')
	b.WriteString(e.Type)
	b.WriteByte(':')
	b.WriteString(e.Trigger.String())
	for _, a := range e.Args {
		b.WriteByte(' ')
		b.WriteString(a.Role)
		b.WriteByte(':')
		b.WriteString(a.Target.String())
	}
	b.WriteString(e.Tail)
	return b.String()
}

// Modifier is a unary attribute attached to another annotation.
type Modifier struct {
	id     ID
	Type   string
	Target ID
	Tail   string
}

// NewModifier returns a modifier of target.
func NewModifier(id ID, typ string, target ID) *Modifier {
	return &Modifier{id: id, Type: typ, Target: target}
}

func (m *Modifier) ID() ID     { return m.id }
func (m *Modifier) Kind() Kind { return KindModifier }
func (m *Modifier) sealed()    {}

func (m *Modifier) Dependencies() (mapset.Set[ID], mapset.Set[ID]) {
	soft, hard := emptyDeps()
	hard.Add(m.Target)
	return soft, hard
}

func (m *Modifier) String() string {
	return m.id.String() + "\t" + m.Type + " " + m.Target.String() + m.Tail
}

// Equiv groups annotations that denote the same entity. It has no id.
type Equiv struct {
	Type     string
	Entities []ID
	Tail     string
}

// NewEquiv returns an equivalence over entities.
func NewEquiv(entities ...ID) *Equiv {
	return &Equiv{Type: EquivType, Entities: entities}
}

func (q *Equiv) Kind() Kind { return KindEquiv }
func (q *Equiv) sealed()    {}

// Has reports whether id is a member.
func (q *Equiv) Has(id ID) bool { return slices.Contains(q.Entities, id) }

// Overlaps reports whether q and other share a member.
func (q *Equiv) Overlaps(other *Equiv) bool {
	for _, id := range other.Entities {
		if q.Has(id) {
			return true
		}
	}
	return false
}

// Dependencies: with more than two members every member is soft; with two
// or fewer they are hard, as removing one would leave no equivalence.
func (q *Equiv) Dependencies() (mapset.Set[ID], mapset.Set[ID]) {
	soft, hard := emptyDeps()
	deps := hard
	if len(q.Entities) > 2 {
		deps = soft
	}
	for _, id := range q.Entities {
		deps.Add(id)
	}
	return soft, hard
}

func (q *Equiv) String() string {
	parts := make([]string, 0, len(q.Entities)+1)
	parts = append(parts, q.Type)
	for _, id := range q.Entities {
		parts = append(parts, id.String())
	}
	return PrefixEquiv + "\t" + strings.Join(parts, " ") + q.Tail
}

// Note is a free-text comment attached to a target.
type Note struct {
	id     ID
	Type   string
	Target ID
	// Tail holds "\t" + text.
	Tail string
}

// NewNote returns a note on target.
func NewNote(id ID, typ string, target ID, text string) *Note {
	return &Note{id: id, Type: typ, Target: target, Tail: "\t" + text}
}

func (n *Note) ID() ID     { return n.id }
func (n *Note) Kind() Kind { return KindNote }
func (n *Note) sealed()    {}

// Text returns the comment text.
func (n *Note) Text() string { return strings.TrimPrefix(n.Tail, "\t") }

func (n *Note) Dependencies() (mapset.Set[ID], mapset.Set[ID]) {
	soft, hard := emptyDeps()
	hard.Add(n.Target)
	return soft, hard
}

func (n *Note) String() string {
	return n.id.String() + "\t" + n.Type + " " + n.Target.String() + n.Tail
}

// Unparsed preserves a line that could not be parsed.
type Unparsed struct {
	Raw string
}

func (u *Unparsed) Kind() Kind                                      { return KindUnparsed }
func (u *Unparsed) sealed()                                         {}
func (u *Unparsed) Dependencies() (mapset.Set[ID], mapset.Set[ID]) { return emptyDeps() }
func (u *Unparsed) String() string                                  { return u.Raw }

// Clone returns a deep copy of a.
func Clone(a Annotation) Annotation {
	switch v := a.(type) {
	case *TextBound:
		c := *v
		return &c
	case *Event:
		c := *v
		c.Args = slices.Clone(v.Args)
		return &c
	case *Modifier:
		c := *v
		return &c
	case *Equiv:
		c := *v
		c.Entities = slices.Clone(v.Entities)
		return &c
	case *Note:
		c := *v
		return &c
	case *Unparsed:
		c := *v
		return &c
	}
	return a
}

// References reports whether a depends on id, softly or hardly.
func References(a Annotation, id ID) bool {
	soft, hard := a.Dependencies()
	return soft.Contains(id) || hard.Contains(id)
}
