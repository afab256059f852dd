// Package parser reads the stand-off annotation line format into a Store.
package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/annostore/internal/annotation"
	"github.com/starford/annostore/internal/store"
)

// ParseLineError describes why a single line could not be parsed.
type ParseLineError struct {
	Line   string
	Reason string
}

func (e *ParseLineError) Error() string {
	return fmt.Sprintf("unparseable line %q: %s", e.Line, e.Reason)
}

func malformed(line, reason string) error {
	return &ParseLineError{Line: line, Reason: reason}
}

// Parse splits data into lines and parses them into a new Store.
// A trailing newline does not produce an extra empty line.
func Parse(data []byte) *store.Store {
	if len(data) == 0 {
		return store.New()
	}
	text := string(bytes.TrimSuffix(data, []byte("\n")))
	return ParseLines(strings.Split(text, "\n"))
}

// ParseLines parses every line into a new Store. Lines that cannot be
// parsed are kept verbatim as *annotation.Unparsed and their 0-based index
// is recorded in the store's FailedLines.
func ParseLines(lines []string) *store.Store {
	s := store.New()
	for i, line := range lines {
		a, err := ParseLine(line)
		if err == nil {
			err = s.Load(a)
		}
		if err != nil {
			// Duplicate ids degrade the same way as syntax errors.
			_ = s.Load(&annotation.Unparsed{Raw: line})
			s.MarkFailed(i)
		}
	}
	return s
}

// ParseLine parses a single line without its terminator.
func ParseLine(line string) (annotation.Annotation, error) {
	idField, rest, ok := strings.Cut(line, "\t")
	if !ok || idField == "" {
		return nil, malformed(line, "missing id field")
	}
	// The data field ends at the next tab; everything from there on is tail.
	data, tail := rest, ""
	if i := strings.IndexByte(rest, '\t'); i >= 0 {
		data, tail = rest[:i], rest[i:]
	}

	switch idField[0] {
	case '*':
		return parseEquiv(line, idField, data, tail)
	case 'E':
		return parseEvent(line, idField, data, tail)
	case 'M', 'A':
		return parseModifier(line, idField, data, tail)
	case 'T', 'W':
		return parseTextBound(line, idField, data, tail)
	case '#':
		return parseNote(line, idField, data, tail)
	}
	return nil, malformed(line, "unknown id prefix")
}

// canonicalID parses text and rejects ids that would not render back to
// the same text, such as "T01", so that round trips stay byte-exact.
func canonicalID(line, text string) (annotation.ID, error) {
	id, err := annotation.ParseID(text)
	if err != nil {
		return annotation.ID{}, malformed(line, err.Error())
	}
	if id.String() != text {
		return annotation.ID{}, malformed(line, "non-canonical id "+text)
	}
	return id, nil
}

// fields splits data on single spaces and wants exactly n non-empty tokens.
func fields(line, data string, n int) ([]string, error) {
	parts := strings.Split(data, " ")
	if len(parts) != n {
		return nil, malformed(line, fmt.Sprintf("expected %d fields, got %d", n, len(parts)))
	}
	for _, p := range parts {
		if p == "" {
			return nil, malformed(line, "empty field")
		}
	}
	return parts, nil
}

func parseTextBound(line, idField, data, tail string) (annotation.Annotation, error) {
	id, err := canonicalID(line, idField)
	if err != nil {
		return nil, err
	}
	f, err := fields(line, data, 3)
	if err != nil {
		return nil, err
	}
	start, err := offset(line, f[1])
	if err != nil {
		return nil, err
	}
	end, err := offset(line, f[2])
	if err != nil {
		return nil, err
	}
	if start > end {
		return nil, malformed(line, "start after end")
	}
	tb := annotation.NewTextBound(id, f[0], start, end, "")
	tb.Tail = tail
	return tb, nil
}

func offset(line, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || strconv.Itoa(n) != s {
		return 0, malformed(line, "bad offset "+s)
	}
	return n, nil
}

func parseEvent(line, idField, data, tail string) (annotation.Annotation, error) {
	id, err := canonicalID(line, idField)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(data, " ")
	typ, trig, ok := strings.Cut(parts[0], ":")
	if !ok || typ == "" {
		return nil, malformed(line, "event without trigger")
	}
	trigger, err := canonicalID(line, trig)
	if err != nil {
		return nil, err
	}
	ev := annotation.NewEvent(id, typ, trigger)
	for _, p := range parts[1:] {
		role, target, ok := strings.Cut(p, ":")
		if !ok || role == "" {
			return nil, malformed(line, "bad argument "+p)
		}
		tid, err := canonicalID(line, target)
		if err != nil {
			return nil, err
		}
		ev.Args = append(ev.Args, annotation.Arg{Role: role, Target: tid})
	}
	ev.Tail = tail
	return ev, nil
}

func parseModifier(line, idField, data, tail string) (annotation.Annotation, error) {
	id, err := canonicalID(line, idField)
	if err != nil {
		return nil, err
	}
	f, err := fields(line, data, 2)
	if err != nil {
		return nil, err
	}
	target, err := canonicalID(line, f[1])
	if err != nil {
		return nil, err
	}
	m := annotation.NewModifier(id, f[0], target)
	m.Tail = tail
	return m, nil
}

func parseNote(line, idField, data, tail string) (annotation.Annotation, error) {
	id, err := canonicalID(line, idField)
	if err != nil {
		return nil, err
	}
	f, err := fields(line, data, 2)
	if err != nil {
		return nil, err
	}
	target, err := canonicalID(line, f[1])
	if err != nil {
		return nil, err
	}
	n := annotation.NewNote(id, f[0], target, "")
	n.Tail = tail
	return n, nil
}

func parseEquiv(line, idField, data, tail string) (annotation.Annotation, error) {
	if idField != annotation.PrefixEquiv {
		return nil, malformed(line, "equiv marker must be "+annotation.PrefixEquiv)
	}
	parts := strings.Split(data, " ")
	if parts[0] != annotation.EquivType {
		return nil, malformed(line, "unsupported equiv type "+parts[0])
	}
	q := annotation.NewEquiv()
	for _, p := range parts[1:] {
		mid, err := canonicalID(line, p)
		if err != nil {
			return nil, err
		}
		q.Entities = append(q.Entities, mid)
	}
	q.Tail = tail
	return q, nil
}
