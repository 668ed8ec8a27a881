package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Symbol is one of the two physical button presses. The string value is the wire name.
type Symbol string

const (
	SymbolUp   Symbol = "volumeUp"
	SymbolDown Symbol = "volumeDown"
)

// ParseSymbol accepts the wire names and the short aliases "up"/"down" (case-insensitive).
func ParseSymbol(s string) (Symbol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "volumeup", "up", "u", "+":
		return SymbolUp, nil
	case "volumedown", "down", "d", "-":
		return SymbolDown, nil
	}
	return "", fmt.Errorf("unknown symbol %q", s)
}

// Valid reports whether s is one of the known symbols.
func (s Symbol) Valid() bool { return s == SymbolUp || s == SymbolDown }

// UnmarshalJSON accepts any spelling ParseSymbol accepts.
func (s *Symbol) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseSymbol(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Sequence is an ordered list of symbols.
type Sequence []Symbol

// ParseSequence parses wire names into a Sequence.
func ParseSequence(in []string) (Sequence, error) {
	out := make(Sequence, 0, len(in))
	for i, raw := range in {
		s, err := ParseSymbol(raw)
		if err != nil {
			return nil, fmt.Errorf("sequence[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Strings returns the wire names, suitable for storage.
func (q Sequence) Strings() []string {
	out := make([]string, len(q))
	for i, s := range q {
		out[i] = string(s)
	}
	return out
}

// Equal reports whether both sequences hold the same symbols in order.
func (q Sequence) Equal(o Sequence) bool {
	if len(q) != len(o) {
		return false
	}
	for i := range q {
		if q[i] != o[i] {
			return false
		}
	}
	return true
}

// HasSuffix reports whether tail equals the last len(tail) symbols of q.
func (q Sequence) HasSuffix(tail Sequence) bool {
	if len(tail) > len(q) {
		return false
	}
	return q[len(q)-len(tail):].Equal(tail)
}

// Validate checks the length invariant and that every symbol is known.
func (q Sequence) Validate() error {
	if len(q) < MinSequenceLen {
		return fmt.Errorf("sequence too short (%d < %d)", len(q), MinSequenceLen)
	}
	for i, s := range q {
		if !s.Valid() {
			return fmt.Errorf("sequence[%d]: unknown symbol %q", i, s)
		}
	}
	return nil
}

// String renders the sequence compactly, e.g. "UUD".
func (q Sequence) String() string {
	var b strings.Builder
	for _, s := range q {
		switch s {
		case SymbolUp:
			b.WriteByte('U')
		case SymbolDown:
			b.WriteByte('D')
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
