package utf8buf

import (
	"math/rand"
	"strings"
	"testing"
)

func TestPushHoldsIncompleteTail(t *testing.T) {
	t.Parallel()

	var r Reassembler
	hira := []byte("あ") // e3 81 82

	if got := r.Push([]byte("x")); got != "x" {
		t.Fatalf("ascii: got %q", got)
	}
	if got := r.Push(hira[:1]); got != "" {
		t.Fatalf("lead byte alone should be held, got %q", got)
	}
	if r.Pending() != 1 {
		t.Fatalf("pending: %d", r.Pending())
	}
	if got := r.Push(hira[1:2]); got != "" {
		t.Fatalf("two of three bytes should be held, got %q", got)
	}
	if got := r.Push(append(hira[2:3:3], 'y')); got != "あy" {
		t.Fatalf("completion: got %q", got)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending after completion: %d", r.Pending())
	}
}

func TestPushEmitsValidLeadingBytes(t *testing.T) {
	t.Parallel()

	var r Reassembler
	emoji := []byte("😀") // f0 9f 98 80
	got := r.Push(append([]byte("ok "), emoji[:2]...))
	if got != "ok " {
		t.Fatalf("expected leading text to be emitted, got %q", got)
	}
	if got := r.Push(emoji[2:]); got != "😀" {
		t.Fatalf("got %q", got)
	}
}

func TestInvalidBytesAreNotHeld(t *testing.T) {
	t.Parallel()

	var r Reassembler
	got := r.Push([]byte{0xff, 'a'})
	if got != "�a" {
		t.Fatalf("got %q", got)
	}
	if r.Pending() != 0 {
		t.Fatalf("invalid bytes must not be buffered")
	}
}

func TestFlushReportsUndecodable(t *testing.T) {
	t.Parallel()

	var r Reassembler
	r.Push([]byte{0xe3, 0x81})
	text, lossy := r.Flush()
	if !lossy {
		t.Fatalf("expected lossy flush")
	}
	if text != "��" {
		t.Fatalf("flush text: %q", text)
	}
	if text, lossy := r.Flush(); text != "" || lossy {
		t.Fatalf("second flush: %q %v", text, lossy)
	}
}

func TestRoundTripRandomSplits(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		[]byte("plain ascii text"),
		[]byte("こんにちは、世界。ひらがなとカタカナ"),
		[]byte("mixed 😀 emoji ✓ and ümlauts"),
		{0xe3, 0x81, 'a', 0xff, 0xf0, 0x9f, 0x98, 0x80, 0x80, 0xc3},
		[]byte(strings.Repeat("漢", 40)),
	}
	rng := rand.New(rand.NewSource(7))
	for _, in := range inputs {
		for trial := range 50 {
			var r Reassembler
			var sb strings.Builder
			for rest := in; len(rest) > 0; {
				n := min(1+rng.Intn(3), len(rest))
				sb.WriteString(r.Push(rest[:n]))
				rest = rest[n:]
			}
			tail, _ := r.Flush()
			sb.WriteString(tail)

			want := string([]rune(string(in)))
			if sb.String() != want {
				t.Fatalf("trial %d: round trip mismatch\n got %q\nwant %q", trial, sb.String(), want)
			}
		}
	}
}
