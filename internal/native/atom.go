package native

import (
	"strconv"
	"strings"
)

// AtomKind tells whether an Atom holds a float or a symbol.
type AtomKind uint8

const (
	// KindFloat is a numeric atom.
	KindFloat AtomKind = iota

	// KindSymbol is a string atom.
	KindSymbol
)

// String returns a human-readable kind name.
func (k AtomKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindSymbol:
		return "symbol"
	default:
		return "unknown"
	}
}

// Atom is a single message value. The zero value is the float 0.
type Atom struct {
	kind   AtomKind
	value  float32
	symbol string
}

// Float creates a float atom.
func Float(v float32) Atom {
	return Atom{kind: KindFloat, value: v}
}

// Symbol creates a symbol atom.
func Symbol(s string) Atom {
	return Atom{kind: KindSymbol, symbol: s}
}

// Kind returns the atom kind.
func (a Atom) Kind() AtomKind { return a.kind }

// IsFloat returns true for float atoms.
func (a Atom) IsFloat() bool { return a.kind == KindFloat }

// IsSymbol returns true for symbol atoms.
func (a Atom) IsSymbol() bool { return a.kind == KindSymbol }

// Float returns the numeric value. Symbols yield 0.
func (a Atom) Float() float32 {
	if a.kind != KindFloat {
		return 0
	}
	return a.value
}

// Symbol returns the symbol value. Floats yield "".
func (a Atom) Symbol() string {
	if a.kind != KindSymbol {
		return ""
	}
	return a.symbol
}

// Equal compares kind and value.
func (a Atom) Equal(b Atom) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindSymbol {
		return a.symbol == b.symbol
	}
	return a.value == b.value
}

// String formats the atom the way the engine prints it.
func (a Atom) String() string {
	if a.kind == KindSymbol {
		return a.symbol
	}
	return strconv.FormatFloat(float64(a.value), 'g', -1, 32)
}

// Atoms is an ordered atom list.
type Atoms []Atom

// Equal compares two lists element-wise.
func (l Atoms) Equal(other Atoms) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if !l[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// String joins the atoms with spaces.
func (l Atoms) String() string {
	parts := make([]string, len(l))
	for i, a := range l {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}
