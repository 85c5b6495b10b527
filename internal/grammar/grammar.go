// Package grammar implements GBNF-style grammars and the stack automaton
// used to constrain sampling to token sequences the grammar accepts.
//
// A grammar is a list of rules of the form
//
//	name ::= alternative | alternative ...
//
// where each alternative is a sequence of string literals ("..."), character
// classes ([a-z], [^"\\]), the any-character wildcard (.), rule references,
// parenthesised groups and the postfix operators *, + and ?. Comments start
// with # and run to the end of the line. Rules end at a newline unless the
// newline is inside a group. Every grammar needs a root rule.
package grammar

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrExhausted means no parse remains viable: every candidate token was
	// rejected or the accepted token could not be matched.
	ErrExhausted = errors.New("grammar exhausted")
	// ErrNoRoot is returned by Parse when the grammar has no root rule.
	ErrNoRoot = errors.New("grammar has no root rule")
	// ErrLeftRecursion is returned by Parse for left-recursive rules.
	ErrLeftRecursion = errors.New("left recursion")
)

// SyntaxError reports a parse failure at a byte offset of the source.
type SyntaxError struct {
	Offset int
	Line   int
	Col    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("grammar:%d:%d: %s", e.Line, e.Col, e.Msg)
}

type elemType uint8

const (
	elemEnd elemType = iota
	elemAlt
	elemRuleRef
	elemChar
	elemCharNot
	elemCharRangeUpper
	elemCharAlt
	elemCharAny
)

type element struct {
	typ   elemType
	value uint32
}

// Grammar is a parsed grammar. It is immutable and may be shared; each
// generation run drives its own Matcher.
type Grammar struct {
	// elems holds every rule back to back; starts[id] is the offset of rule id.
	elems  []element
	starts []int32
	names  []string
	gen    []bool
	root   int
}

// Rules returns the number of rules, including the ones generated for
// groups and repetitions.
func (g *Grammar) Rules() int { return len(g.starts) }

// Symbols returns the names of the rules written in the source, sorted.
func (g *Grammar) Symbols() []string {
	out := make([]string, 0, len(g.names))
	for id, name := range g.names {
		if !g.gen[id] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Matches reports whether s is a complete sentence of the grammar.
func (g *Grammar) Matches(s string) bool {
	m := g.NewMatcher()
	if err := m.AcceptBytes([]byte(s)); err != nil {
		return false
	}
	return m.Done()
}

// String renders the rules in GBNF form, one per line.
func (g *Grammar) String() string {
	var b strings.Builder
	for id := range g.starts {
		b.WriteString(g.names[id])
		b.WriteString(" ::=")
		empty := true
		for p := g.starts[id]; ; p++ {
			el := g.elems[p]
			if (el.typ == elemEnd || el.typ == elemAlt) && empty {
				b.WriteString(` ""`)
			}
			empty = el.typ == elemAlt
			switch el.typ {
			case elemEnd:
				b.WriteByte('\n')
			case elemAlt:
				b.WriteString(" |")
			case elemRuleRef:
				b.WriteString(" " + g.names[el.value])
			case elemChar:
				fmt.Fprintf(&b, " [%s", escapeRune(rune(el.value)))
			case elemCharNot:
				fmt.Fprintf(&b, " [^%s", escapeRune(rune(el.value)))
			case elemCharRangeUpper:
				fmt.Fprintf(&b, "-%s", escapeRune(rune(el.value)))
			case elemCharAlt:
				b.WriteString(escapeRune(rune(el.value)))
			case elemCharAny:
				b.WriteString(" .")
			}
			if el.typ == elemEnd {
				break
			}
			if next := g.elems[p+1].typ; isCharElem(el.typ) && next != elemCharAlt && next != elemCharRangeUpper {
				b.WriteByte(']')
			}
		}
	}
	return b.String()
}

func isCharElem(t elemType) bool {
	return t == elemChar || t == elemCharNot || t == elemCharRangeUpper || t == elemCharAlt
}

func escapeRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\', ']', '[', '"', '^', '-':
		return `\` + string(r)
	}
	if r < 0x20 {
		return fmt.Sprintf(`\x%02X`, r)
	}
	return string(r)
}
