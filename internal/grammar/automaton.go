package grammar

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// stack is a list of element offsets; the last entry is the element the
// automaton expects next. An empty stack means the parse is complete.
type stack []int32

// partialUTF8 is the state of a codepoint whose bytes are split across tokens.
// remain is -1 after an invalid sequence.
type partialUTF8 struct {
	value  uint32
	remain int
}

var utf8Lengths = [16]int{1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 2, 2, 3, 4}

// decodeUTF8 decodes src continuing from partial. It returns the complete
// codepoints and the state of a trailing incomplete sequence. ok is false
// when src is not valid UTF-8.
func decodeUTF8(src []byte, partial partialUTF8) (cps []rune, next partialUTF8, ok bool) {
	value, remain := partial.value, partial.remain
	i := 0
	for i < len(src) && remain > 0 {
		if src[i]>>6 != 2 {
			return nil, partialUTF8{remain: -1}, false
		}
		value = value<<6 + uint32(src[i]&0x3f)
		i++
		remain--
	}
	if partial.remain > 0 && remain == 0 {
		cps = append(cps, rune(value))
	}
	for i < len(src) {
		remain = utf8Lengths[src[i]>>4] - 1
		if remain < 0 {
			return nil, partialUTF8{remain: -1}, false
		}
		value = uint32(src[i]) & (1<<(7-remain) - 1)
		i++
		for i < len(src) && remain > 0 {
			value = value<<6 + uint32(src[i]&0x3f)
			i++
			remain--
		}
		if remain == 0 {
			cps = append(cps, rune(value))
		}
	}
	return cps, partialUTF8{value: value, remain: remain}, true
}

func (g *Grammar) isEndOfSequence(pos int32) bool {
	t := g.elems[pos].typ
	return t == elemEnd || t == elemAlt
}

// advanceStack expands rule references at the top of st until every
// resulting stack ends in a character element, appending new stacks to out.
func (g *Grammar) advanceStack(st stack, out []stack) []stack {
	if len(st) == 0 {
		return appendUnique(out, st)
	}
	pos := st[len(st)-1]
	el := g.elems[pos]
	if el.typ != elemRuleRef {
		return appendUnique(out, st)
	}

	sub := g.starts[el.value]
	for {
		next := make(stack, 0, len(st)+1)
		next = append(next, st[:len(st)-1]...)
		if !g.isEndOfSequence(pos + 1) {
			next = append(next, pos+1)
		}
		if !g.isEndOfSequence(sub) {
			next = append(next, sub)
		}
		out = g.advanceStack(next, out)

		for !g.isEndOfSequence(sub) {
			sub++
		}
		if g.elems[sub].typ != elemAlt {
			break
		}
		sub++
	}
	return out
}

func appendUnique(out []stack, st stack) []stack {
	for _, s := range out {
		if slices.Equal(s, st) {
			return out
		}
	}
	return append(out, st)
}

// matchChar reports whether r satisfies the character element at pos and
// returns the offset just past its alternatives.
func (g *Grammar) matchChar(pos int32, r rune) (bool, int32) {
	c := uint32(r)
	positive := g.elems[pos].typ == elemChar || g.elems[pos].typ == elemCharAny
	found := false
	for {
		el := g.elems[pos]
		switch {
		case g.elems[pos+1].typ == elemCharRangeUpper:
			found = found || (el.value <= c && c <= g.elems[pos+1].value)
			pos += 2
		case el.typ == elemCharAny:
			found = true
			pos++
		default:
			found = found || el.value == c
			pos++
		}
		if g.elems[pos].typ != elemCharAlt {
			break
		}
	}
	return found == positive, pos
}

// matchPartial reports whether some completion of partial could satisfy the
// character element at pos.
func (g *Grammar) matchPartial(pos int32, partial partialUTF8) bool {
	positive := g.elems[pos].typ == elemChar || g.elems[pos].typ == elemCharAny
	value, remain := partial.value, partial.remain

	// Invalid, or a 7-bit value in two bytes (overlong).
	if remain < 0 || (remain == 1 && value < 2) {
		return false
	}
	low := value << (remain * 6)
	high := low | (1<<(remain*6) - 1)
	if low == 0 {
		switch remain {
		case 2:
			low = 1 << 11
		case 3:
			low = 1 << 16
		}
	}

	for {
		el := g.elems[pos]
		switch {
		case g.elems[pos+1].typ == elemCharRangeUpper:
			if el.value <= high && low <= g.elems[pos+1].value {
				return positive
			}
			pos += 2
		case el.typ == elemCharAny:
			return true
		default:
			if low <= el.value && el.value <= high {
				return positive
			}
			pos++
		}
		if g.elems[pos].typ != elemCharAlt {
			return !positive
		}
	}
}

// accept advances every stack over r and returns the survivors.
func (g *Grammar) accept(stacks []stack, r rune) []stack {
	var out []stack
	for _, st := range stacks {
		if len(st) == 0 {
			continue
		}
		ok, next := g.matchChar(st[len(st)-1], r)
		if !ok {
			continue
		}
		ns := make(stack, 0, len(st))
		ns = append(ns, st[:len(st)-1]...)
		if !g.isEndOfSequence(next) {
			ns = append(ns, next)
		}
		out = g.advanceStack(ns, out)
	}
	return out
}

// gcand is a token under evaluation: its decoded codepoints, how many of
// them have been matched so far and the trailing partial sequence.
type gcand struct {
	index   int
	cps     []rune
	off     int
	partial partialUTF8
}

// rejectCandidates returns the candidates that no stack can accept.
func (g *Grammar) rejectCandidates(stacks []stack, cands []gcand) []gcand {
	if len(stacks) == 0 {
		return cands
	}
	rejects := g.rejectForStack(stacks[0], cands)
	for _, st := range stacks[1:] {
		if len(rejects) == 0 {
			break
		}
		rejects = g.rejectForStack(st, rejects)
	}
	return rejects
}

func (g *Grammar) rejectForStack(st stack, cands []gcand) []gcand {
	var rejects []gcand
	if len(st) == 0 {
		for _, c := range cands {
			if c.off < len(c.cps) || c.partial.remain != 0 {
				rejects = append(rejects, c)
			}
		}
		return rejects
	}

	pos := st[len(st)-1]
	var next []gcand
	for _, c := range cands {
		switch {
		case c.off == len(c.cps):
			if c.partial.remain != 0 && !g.matchPartial(pos, c.partial) {
				rejects = append(rejects, c)
			}
		case g.matchChar1(pos, c.cps[c.off]):
			c.off++
			next = append(next, c)
		default:
			rejects = append(rejects, c)
		}
	}
	if len(next) == 0 {
		return rejects
	}

	_, after := g.matchChar(pos, 0)
	ns := make(stack, 0, len(st))
	ns = append(ns, st[:len(st)-1]...)
	if !g.isEndOfSequence(after) {
		ns = append(ns, after)
	}
	for _, c := range g.rejectCandidates(g.advanceStack(ns, nil), next) {
		c.off--
		rejects = append(rejects, c)
	}
	return rejects
}

func (g *Grammar) matchChar1(pos int32, r rune) bool {
	ok, _ := g.matchChar(pos, r)
	return ok
}

// Matcher tracks the live parse of one generation run. It is not safe for
// concurrent use.
type Matcher struct {
	g       *Grammar
	stacks  []stack
	partial partialUTF8
}

// NewMatcher returns a matcher positioned at the start of the root rule.
func (g *Grammar) NewMatcher() *Matcher {
	m := &Matcher{g: g}
	pos := g.starts[g.root]
	for {
		var st stack
		if !g.isEndOfSequence(pos) {
			st = stack{pos}
		}
		m.stacks = g.advanceStack(st, m.stacks)
		for !g.isEndOfSequence(pos) {
			pos++
		}
		if g.elems[pos].typ != elemAlt {
			break
		}
		pos++
	}
	return m
}

// Done reports whether the input so far is a complete sentence.
func (m *Matcher) Done() bool {
	if m.partial.remain != 0 {
		return false
	}
	for _, st := range m.stacks {
		if len(st) == 0 {
			return true
		}
	}
	return false
}

// AcceptBytes advances the matcher over b, which may end inside a
// multi-byte codepoint. On failure the matcher is left unchanged and the
// error wraps ErrExhausted.
func (m *Matcher) AcceptBytes(b []byte) error {
	cps, partial, ok := decodeUTF8(b, m.partial)
	if !ok {
		return fmt.Errorf("%w: invalid UTF-8 in %q", ErrExhausted, b)
	}
	stacks := m.stacks
	for _, r := range cps {
		stacks = m.g.accept(stacks, r)
		if len(stacks) == 0 {
			return fmt.Errorf("%w: unexpected %q", ErrExhausted, r)
		}
	}
	if partial.remain > 0 && !slices.ContainsFunc(stacks, func(st stack) bool {
		return len(st) > 0 && m.g.matchPartial(st[len(st)-1], partial)
	}) {
		return fmt.Errorf("%w: incomplete sequence cannot match", ErrExhausted)
	}
	m.stacks = stacks
	m.partial = partial
	return nil
}

// Allows reports whether b could be accepted next without exhausting the
// grammar.
func (m *Matcher) Allows(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	rejected := m.reject([][]byte{b})
	return !rejected[0]
}

// reject evaluates pieces against the current state and reports, per piece,
// whether it must be masked. Empty and invalid pieces are always rejected.
func (m *Matcher) reject(pieces [][]byte) []bool {
	out := make([]bool, len(pieces))
	cands := make([]gcand, 0, len(pieces))
	for i, p := range pieces {
		if len(p) == 0 {
			out[i] = true
			continue
		}
		cps, partial, ok := decodeUTF8(p, m.partial)
		if !ok {
			out[i] = true
			continue
		}
		cands = append(cands, gcand{index: i, cps: cps, partial: partial})
	}
	for _, c := range m.g.rejectCandidates(m.stacks, cands) {
		out[c.index] = true
	}
	return out
}

// key identifies the automaton state.
func (m *Matcher) key() string {
	n := 8
	for _, st := range m.stacks {
		n += 4 * (len(st) + 1)
	}
	buf := make([]byte, 0, n)
	buf = binary.LittleEndian.AppendUint32(buf, m.partial.value)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(m.partial.remain)))
	for _, st := range m.stacks {
		for _, pos := range st {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(pos))
		}
		buf = binary.LittleEndian.AppendUint32(buf, ^uint32(0))
	}
	return string(buf)
}
