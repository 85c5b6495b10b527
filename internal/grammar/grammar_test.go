package grammar

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samcharles93/hearth/internal/logits"
)

func TestParseBuiltins(t *testing.T) {
	t.Parallel()

	got := JSON().Symbols()
	want := []string{"array", "number", "object", "root", "string", "value", "ws"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("json symbols (-want +got):\n%s", diff)
	}
	if JapaneseChat().Rules() <= len(JapaneseChat().Symbols()) {
		t.Fatalf("expected generated rules for repetitions")
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		g    *Grammar
		in   string
		want bool
	}{
		{"json empty object", JSON(), `{}`, true},
		{"json nested", JSON(), `{"a": [1, 2.5, -3e10, true, null], "b": {"c": "x\"y"}}`, true},
		{"json unicode escape", JSON(), `{"k": "é"}`, true},
		{"json trailing ws", JSON(), "{\"a\": 1}\n", true},
		{"json top-level array", JSON(), `[1]`, false},
		{"json unterminated", JSON(), `{"a": 1`, false},
		{"json bad escape", JSON(), `{"a": "\q"}`, false},
		{"jp chat", JapaneseChat(), "User:こんにちは\nAlan:はい、げんきです。", true},
		{"jp chat katakana", JapaneseChat(), "Alan:コーヒー", true},
		{"jp chat ascii body", JapaneseChat(), "User:hello", false},
		{"jp chat no prefix", JapaneseChat(), "こんにちは", false},
		{"any char", MustParse(`root ::= "<" . ">"`), "<é>", true},
		{"negated class", MustParse(`root ::= [^a-c]+`), "xyz", true},
		{"negated class reject", MustParse(`root ::= [^a-c]+`), "xbz", false},
		{"optional", MustParse(`root ::= "a" "b"?`), "a", true},
		{"hex escape", MustParse(`root ::= "\x41é"`), "Aé", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.g.Matches(tc.in); got != tc.want {
				t.Fatalf("Matches(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	var syntax *SyntaxError
	cases := []struct {
		name string
		src  string
		is   func(error) bool
	}{
		{"undefined rule", `root ::= missing`, func(err error) bool { return errors.As(err, &syntax) }},
		{"no root", `start ::= "a"`, func(err error) bool { return errors.Is(err, ErrNoRoot) }},
		{"left recursion", "root ::= expr\nexpr ::= expr \"+\" | \"1\"", func(err error) bool { return errors.Is(err, ErrLeftRecursion) }},
		{"empty class", `root ::= []`, func(err error) bool { return errors.As(err, &syntax) }},
		{"unterminated literal", `root ::= "abc`, func(err error) bool { return errors.As(err, &syntax) }},
		{"missing assign", `root "a"`, func(err error) bool { return errors.As(err, &syntax) }},
		{"dangling repeat", `root ::= *`, func(err error) bool { return errors.As(err, &syntax) }},
		{"unclosed group", `root ::= ("a"`, func(err error) bool { return errors.As(err, &syntax) }},
		{"duplicate rule", "root ::= \"a\"\nroot ::= \"b\"", func(err error) bool { return errors.As(err, &syntax) }},
		{"bad escape", `root ::= "\q"`, func(err error) bool { return errors.As(err, &syntax) }},
	}
	for _, tc := range cases {
		_, err := Parse(tc.src)
		if err == nil || !tc.is(err) {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	t.Parallel()

	_, err := Parse("root ::= \"a\"\nfoo ::= [")
	var syntax *SyntaxError
	if !errors.As(err, &syntax) {
		t.Fatalf("expected syntax error, got %v", err)
	}
	if syntax.Line != 2 {
		t.Fatalf("expected line 2, got %d (%v)", syntax.Line, err)
	}
	if !strings.HasPrefix(err.Error(), "grammar:2:") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	g := JSON()
	again, err := Parse(g.String())
	if err != nil {
		t.Fatalf("reparse rendered grammar: %v\n%s", err, g.String())
	}
	for _, s := range []string{`{"a": [1, {"b": null}]}`, `{}`, `{"x": "\\n"}`} {
		if !again.Matches(s) {
			t.Fatalf("rendered grammar rejects %q", s)
		}
	}
	if again.Matches(`[]`) {
		t.Fatalf("rendered grammar accepts a top-level array")
	}
}

func TestMatcherPartialUTF8(t *testing.T) {
	t.Parallel()

	m := JapaneseChat().NewMatcher()
	if err := m.AcceptBytes([]byte("User:")); err != nil {
		t.Fatal(err)
	}
	hira := []byte("あ")
	if !m.Allows(hira[:1]) {
		t.Fatalf("lead byte of a hiragana should be allowed")
	}
	if m.Allows([]byte{'a'}) {
		t.Fatalf("ascii should be rejected inside a message")
	}
	for _, b := range hira {
		if err := m.AcceptBytes([]byte{b}); err != nil {
			t.Fatalf("byte %x: %v", b, err)
		}
		if b != hira[len(hira)-1] && m.Done() {
			t.Fatalf("matcher done inside a codepoint")
		}
	}
	if !m.Done() {
		t.Fatalf("expected a complete sentence")
	}
	// A lead byte of a Latin-1 codepoint cannot start any allowed character.
	if m.Allows([]byte{0xc3}) {
		t.Fatalf("partial sequence outside every class should be rejected")
	}
}

func TestMatcherFailureLeavesState(t *testing.T) {
	t.Parallel()

	m := MustParse(`root ::= "ab"`).NewMatcher()
	if err := m.AcceptBytes([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := m.AcceptBytes([]byte("x")); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if err := m.AcceptBytes([]byte("b")); err != nil {
		t.Fatalf("state should survive a failed accept: %v", err)
	}
	if !m.Done() {
		t.Fatalf("expected done")
	}
}

// byteVocab maps ids 0-255 to single bytes, 256 to EOS and higher ids to
// extra multi-byte pieces.
type byteVocab struct{ extra []string }

func (v byteVocab) TokenBytes(id int) []byte {
	switch {
	case id < 256:
		return []byte{byte(id)}
	case id == 256:
		return nil
	default:
		return []byte(v.extra[id-257])
	}
}

func (byteVocab) EOS() int { return 256 }

func allCandidates(n int) []logits.Candidate {
	out := make([]logits.Candidate, n)
	for i := range out {
		out[i] = logits.Candidate{ID: i}
	}
	return out
}

func ids(cands []logits.Candidate) []int {
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestConstraintMask(t *testing.T) {
	t.Parallel()

	vocab := byteVocab{extra: []string{"ab", "bc", ""}}
	c := NewConstraint(MustParse(`root ::= "a" [bc]+`), vocab)

	got, err := c.Apply(allCandidates(260))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{'a', 257}, ids(got)); diff != "" {
		t.Fatalf("initial mask (-want +got):\n%s", diff)
	}
	if err := c.Accept(257); err != nil {
		t.Fatal(err)
	}

	got, err = c.Apply(allCandidates(260))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{'b', 'c', 256, 258}, ids(got)); diff != "" {
		t.Fatalf("after ab (-want +got):\n%s", diff)
	}
	if err := c.Accept(256); err != nil {
		t.Fatalf("EOS should be accepted once complete: %v", err)
	}
}

func TestConstraintEOSOnlyWhenComplete(t *testing.T) {
	t.Parallel()

	c := NewConstraint(MustParse(`root ::= "ok"`), byteVocab{})
	got, err := c.Apply([]logits.Candidate{{ID: 256}, {ID: 'o'}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{'o'}, ids(got)); diff != "" {
		t.Fatalf("EOS must be masked before completion (-want +got):\n%s", diff)
	}
	if err := c.Accept(256); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted for early EOS, got %v", err)
	}

	_, err = c.Apply([]logits.Candidate{{ID: 'x'}, {ID: 256}})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted when nothing survives, got %v", err)
	}
}

func TestConstraintWithSampler(t *testing.T) {
	t.Parallel()

	vocab := byteVocab{}
	g := JSON()
	c := NewConstraint(g, vocab)
	s := logits.NewSampler(logits.SamplerConfig{Seed: 11, Temperature: 1.5, TopK: 300, TopP: 1})

	scores := make([]float32, 257)
	var out []byte
	for range 200 {
		id, err := s.Sample(scores, nil, c)
		if err != nil {
			t.Fatalf("sample: %v (text so far %q)", err, out)
		}
		if id == vocab.EOS() {
			break
		}
		out = append(out, byte(id))
	}
	m := g.NewMatcher()
	if err := m.AcceptBytes(out); err != nil {
		t.Fatalf("sampled text %q is not a grammar prefix: %v", out, err)
	}
	if c.Done() != m.Done() {
		t.Fatalf("constraint and matcher disagree on completion for %q", out)
	}
}
