package annotation

import (
	"cmp"
	"regexp"
	"strconv"

	"github.com/starford/annostore/internal/apperr"
)

// Id prefixes in use by the line format.
const (
	PrefixTextBound = "T"
	PrefixEvent     = "E"
	PrefixModifier  = "M"
	PrefixAttribute = "A"
	PrefixNote      = "#"
	PrefixRelation  = "R"
	PrefixEquiv     = "*"
)

var idRe = regexp.MustCompile(`^([A-Za-z]|#)([0-9]+)(.*)$`)

// ID identifies an id-bearing annotation within one document.
// It is comparable and used directly as a map key.
type ID struct {
	Prefix string
	Number int
	Suffix string
}

// NewID returns the id prefix+number with no suffix.
func NewID(prefix string, number int) ID {
	return ID{Prefix: prefix, Number: number}
}

// ParseID parses identifier text such as "T12" or "#3".
func ParseID(text string) (ID, error) {
	m := idRe.FindStringSubmatch(text)
	if m == nil {
		return ID{}, apperr.InvalidID(text)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return ID{}, apperr.InvalidID(text)
	}
	return ID{Prefix: m[1], Number: n, Suffix: m[3]}, nil
}

func (id ID) String() string {
	return id.Prefix + strconv.Itoa(id.Number) + id.Suffix
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders ids by prefix, number, then suffix.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.Prefix, other.Prefix); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Number, other.Number); c != 0 {
		return c
	}
	return cmp.Compare(id.Suffix, other.Suffix)
}
