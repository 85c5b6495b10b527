package grammar

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

type parser struct {
	src   string
	pos   int
	rules [][]element
	names []string
	gen   []bool
	ids   map[string]int
}

// Parse compiles src into a Grammar. It fails with a *SyntaxError on
// malformed input or undefined rule references, ErrNoRoot when no root
// rule exists and ErrLeftRecursion for left-recursive rules.
func Parse(src string) (*Grammar, error) {
	p := &parser{src: src, ids: map[string]int{}}
	p.pos = p.skipSpace(0, true)
	for p.pos < len(p.src) {
		if err := p.parseRule(); err != nil {
			return nil, err
		}
	}

	for id, rule := range p.rules {
		if len(rule) == 0 {
			return nil, &SyntaxError{Msg: fmt.Sprintf("undefined rule %q", p.names[id])}
		}
	}
	root, ok := p.ids["root"]
	if !ok {
		return nil, ErrNoRoot
	}

	g := &Grammar{
		starts: make([]int32, len(p.rules)),
		names:  p.names,
		gen:    p.gen,
		root:   root,
	}
	for id, rule := range p.rules {
		g.starts[id] = int32(len(g.elems))
		g.elems = append(g.elems, rule...)
	}
	if err := g.checkLeftRecursion(); err != nil {
		return nil, err
	}
	return g, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Grammar {
	g, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return g
}

func (p *parser) errorf(offset int, format string, args ...any) error {
	line := 1 + strings.Count(p.src[:offset], "\n")
	col := offset - strings.LastIndexByte(p.src[:offset], '\n')
	return &SyntaxError{Offset: offset, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) symbolID(name string) int {
	if id, ok := p.ids[name]; ok {
		return id
	}
	id := len(p.names)
	p.ids[name] = id
	p.names = append(p.names, name)
	p.gen = append(p.gen, false)
	p.rules = append(p.rules, nil)
	return id
}

func (p *parser) generateSymbol(base string) int {
	id := p.symbolID(base + "_" + strconv.Itoa(len(p.names)))
	p.gen[id] = true
	return id
}

func (p *parser) skipSpace(pos int, newlineOK bool) int {
	for pos < len(p.src) {
		switch c := p.src[pos]; {
		case c == ' ' || c == '\t':
			pos++
		case c == '#':
			for pos < len(p.src) && p.src[pos] != '\r' && p.src[pos] != '\n' {
				pos++
			}
		case newlineOK && (c == '\r' || c == '\n'):
			pos++
		default:
			return pos
		}
	}
	return pos
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

func (p *parser) parseName(pos int) (int, error) {
	end := pos
	for end < len(p.src) && isWordChar(p.src[end]) {
		end++
	}
	if end == pos {
		return 0, p.errorf(pos, "expecting name")
	}
	return end, nil
}

func (p *parser) parseRule() error {
	start := p.pos
	nameEnd, err := p.parseName(p.pos)
	if err != nil {
		return err
	}
	name := p.src[start:nameEnd]
	p.pos = p.skipSpace(nameEnd, false)
	id := p.symbolID(name)
	if len(p.rules[id]) > 0 {
		return p.errorf(start, "rule %q defined more than once", name)
	}
	if !strings.HasPrefix(p.src[p.pos:], "::=") {
		return p.errorf(p.pos, "expecting ::=")
	}
	p.pos = p.skipSpace(p.pos+3, true)

	if err := p.parseAlternates(name, id, false); err != nil {
		return err
	}

	switch {
	case p.pos >= len(p.src):
	case p.src[p.pos] == '\r':
		p.pos++
		if p.pos < len(p.src) && p.src[p.pos] == '\n' {
			p.pos++
		}
	case p.src[p.pos] == '\n':
		p.pos++
	default:
		return p.errorf(p.pos, "expecting newline or end of input")
	}
	p.pos = p.skipSpace(p.pos, true)
	return nil
}

func (p *parser) parseAlternates(name string, id int, nested bool) error {
	rule, err := p.parseSequence(name, nil, nested)
	if err != nil {
		return err
	}
	for p.pos < len(p.src) && p.src[p.pos] == '|' {
		rule = append(rule, element{typ: elemAlt})
		p.pos = p.skipSpace(p.pos+1, true)
		if rule, err = p.parseSequence(name, rule, nested); err != nil {
			return err
		}
	}
	rule = append(rule, element{typ: elemEnd})
	p.rules[id] = rule
	return nil
}

func (p *parser) parseSequence(name string, out []element, nested bool) ([]element, error) {
	lastSym := len(out)
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '"':
			p.pos++
			lastSym = len(out)
			for p.pos < len(p.src) && p.src[p.pos] != '"' {
				r, next, err := p.parseChar(p.pos)
				if err != nil {
					return nil, err
				}
				out = append(out, element{typ: elemChar, value: uint32(r)})
				p.pos = next
			}
			if p.pos >= len(p.src) {
				return nil, p.errorf(p.pos, "unexpected end of input in string literal")
			}
			p.pos = p.skipSpace(p.pos+1, nested)

		case c == '[':
			open := p.pos
			p.pos++
			first := elemChar
			if p.pos < len(p.src) && p.src[p.pos] == '^' {
				first = elemCharNot
				p.pos++
			}
			lastSym = len(out)
			for p.pos < len(p.src) && p.src[p.pos] != ']' {
				r, next, err := p.parseChar(p.pos)
				if err != nil {
					return nil, err
				}
				typ := elemCharAlt
				if lastSym == len(out) {
					typ = first
				}
				out = append(out, element{typ: typ, value: uint32(r)})
				p.pos = next
				if p.pos+1 < len(p.src) && p.src[p.pos] == '-' && p.src[p.pos+1] != ']' {
					upper, next, err := p.parseChar(p.pos + 1)
					if err != nil {
						return nil, err
					}
					if upper < r {
						return nil, p.errorf(p.pos, "invalid range %q-%q", r, upper)
					}
					out = append(out, element{typ: elemCharRangeUpper, value: uint32(upper)})
					p.pos = next
				}
			}
			if p.pos >= len(p.src) {
				return nil, p.errorf(p.pos, "unexpected end of input in character class")
			}
			if lastSym == len(out) {
				return nil, p.errorf(open, "empty character class")
			}
			p.pos = p.skipSpace(p.pos+1, nested)

		case isWordChar(c):
			end, err := p.parseName(p.pos)
			if err != nil {
				return nil, err
			}
			ref := p.symbolID(p.src[p.pos:end])
			p.pos = p.skipSpace(end, nested)
			lastSym = len(out)
			out = append(out, element{typ: elemRuleRef, value: uint32(ref)})

		case c == '(':
			p.pos = p.skipSpace(p.pos+1, true)
			sub := p.generateSymbol(name)
			if err := p.parseAlternates(name, sub, true); err != nil {
				return nil, err
			}
			lastSym = len(out)
			out = append(out, element{typ: elemRuleRef, value: uint32(sub)})
			if p.pos >= len(p.src) || p.src[p.pos] != ')' {
				return nil, p.errorf(p.pos, "expecting ')'")
			}
			p.pos = p.skipSpace(p.pos+1, nested)

		case c == '.':
			lastSym = len(out)
			out = append(out, element{typ: elemCharAny})
			p.pos = p.skipSpace(p.pos+1, nested)

		case c == '*' || c == '+' || c == '?':
			if lastSym == len(out) {
				return nil, p.errorf(p.pos, "expecting preceding item to %c", c)
			}
			// S* becomes S' ::= S S' |
			// S+ becomes S' ::= S S' | S
			// S? becomes S' ::= S |
			sub := p.generateSymbol(name)
			body := slices.Clone(out[lastSym:])
			rule := slices.Clone(body)
			if c != '?' {
				rule = append(rule, element{typ: elemRuleRef, value: uint32(sub)})
			}
			rule = append(rule, element{typ: elemAlt})
			if c == '+' {
				rule = append(rule, body...)
			}
			rule = append(rule, element{typ: elemEnd})
			p.rules[sub] = rule

			out = append(out[:lastSym], element{typ: elemRuleRef, value: uint32(sub)})
			p.pos = p.skipSpace(p.pos+1, nested)

		default:
			return out, nil
		}
	}
	return out, nil
}

func (p *parser) parseChar(pos int) (rune, int, error) {
	if p.src[pos] == '\\' {
		if pos+1 >= len(p.src) {
			return 0, 0, p.errorf(pos, "unexpected end of input after escape")
		}
		switch e := p.src[pos+1]; e {
		case 'x':
			return p.parseHex(pos+2, 2)
		case 'u':
			return p.parseHex(pos+2, 4)
		case 'U':
			return p.parseHex(pos+2, 8)
		case 't':
			return '\t', pos + 2, nil
		case 'r':
			return '\r', pos + 2, nil
		case 'n':
			return '\n', pos + 2, nil
		case '\\', '"', '[', ']', '-', '^':
			return rune(e), pos + 2, nil
		default:
			return 0, 0, p.errorf(pos, "unknown escape \\%c", e)
		}
	}
	r, size := utf8.DecodeRuneInString(p.src[pos:])
	if r == utf8.RuneError && size <= 1 {
		return 0, 0, p.errorf(pos, "invalid UTF-8")
	}
	return r, pos + size, nil
}

func (p *parser) parseHex(pos, size int) (rune, int, error) {
	end := pos + size
	if end > len(p.src) {
		return 0, 0, p.errorf(pos, "expecting %d hex chars", size)
	}
	v, err := strconv.ParseUint(p.src[pos:end], 16, 32)
	if err != nil {
		return 0, 0, p.errorf(pos, "expecting %d hex chars", size)
	}
	return rune(v), end, nil
}

// checkLeftRecursion walks the leftmost references of every rule, looking
// through references to rules that may match the empty string.
func (g *Grammar) checkLeftRecursion() error {
	n := len(g.starts)
	visited := make([]bool, n)
	inProgress := make([]bool, n)
	mayBeEmpty := make([]bool, n)

	var detect func(id int) bool
	detect = func(id int) bool {
		if inProgress[id] {
			return true
		}
		inProgress[id] = true

		atStart := true
		for p := g.starts[id]; ; p++ {
			typ := g.elems[p].typ
			if typ == elemEnd || typ == elemAlt {
				if atStart {
					mayBeEmpty[id] = true
					break
				}
				atStart = true
			} else {
				atStart = false
			}
			if typ == elemEnd {
				break
			}
		}

		leftmost := true
		for p := g.starts[id]; ; p++ {
			el := g.elems[p]
			switch {
			case el.typ == elemRuleRef && leftmost:
				if detect(int(el.value)) {
					return true
				}
				if !mayBeEmpty[el.value] {
					leftmost = false
				}
			case el.typ == elemEnd || el.typ == elemAlt:
				leftmost = true
			default:
				leftmost = false
			}
			if el.typ == elemEnd {
				break
			}
		}

		inProgress[id] = false
		visited[id] = true
		return false
	}

	for id := range n {
		if !visited[id] && detect(id) {
			return fmt.Errorf("%w in rule %q", ErrLeftRecursion, g.names[id])
		}
	}
	return nil
}
