//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// lineEditor reads one line at a time from a raw-mode terminal with cursor
// movement, word editing and history.
type lineEditor struct {
	out     io.Writer
	history []string
	stdin   *bufio.Reader
}

func newLineEditor() *lineEditor {
	return &lineEditor{out: os.Stdout}
}

// editState is the line being edited.
type editState struct {
	prompt string
	line   []byte
	cursor int

	histPos  int
	browsing bool
	draft    string
}

func (e *lineEditor) ReadLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		if e.stdin == nil {
			e.stdin = bufio.NewReader(os.Stdin)
		}
		fmt.Fprint(e.out, prompt)
		s, err := e.stdin.ReadString('\n')
		if err != nil && (err != io.EOF || s == "") {
			return "", err
		}
		return trimTrailingNewline(s), nil
	}

	fd := int(os.Stdin.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() { _ = unix.IoctlSetTermios(fd, unix.TCSETS, saved) }()

	st := &editState{prompt: prompt, line: make([]byte, 0, 256), histPos: len(e.history)}
	fmt.Fprint(e.out, prompt)

	var (
		buf [16]byte
		esc int
		csi strings.Builder
	)
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			switch esc {
			case 1:
				esc = 0
				switch b {
				case '[':
					esc = 2
					csi.Reset()
				case 'b', 'B':
					e.wordLeft(st)
				case 'f', 'F':
					e.wordRight(st)
				case 127:
					e.deleteWordBack(st)
				}
				continue
			case 2:
				csi.WriteByte(b)
				if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
					e.control(st, csi.String())
					esc = 0
				}
				continue
			}

			switch b {
			case 27:
				esc = 1
			case '\r', '\n':
				fmt.Fprint(e.out, "\r\n")
				out := string(st.line)
				if strings.TrimSpace(out) != "" {
					e.history = append(e.history, out)
				}
				return out, nil
			case 3: // Ctrl+C
				fmt.Fprint(e.out, "^C\r\n")
				return "", io.EOF
			case 4: // Ctrl+D
				if len(st.line) == 0 {
					fmt.Fprint(e.out, "\r\n")
					return "", io.EOF
				}
			case 127, 8:
				if st.cursor > 0 {
					st.line = append(st.line[:st.cursor-1], st.line[st.cursor:]...)
					st.cursor--
					e.redraw(st)
				}
			case 1: // Ctrl+A
				st.cursor = 0
				e.redraw(st)
			case 5: // Ctrl+E
				st.cursor = len(st.line)
				e.redraw(st)
			case 23: // Ctrl+W
				e.deleteWordBack(st)
			default:
				if b >= 32 {
					st.line = append(st.line, 0)
					copy(st.line[st.cursor+1:], st.line[st.cursor:])
					st.line[st.cursor] = b
					st.cursor++
					e.redraw(st)
				}
			}
		}
	}
}

func (e *lineEditor) redraw(st *editState) {
	fmt.Fprintf(e.out, "\r%s%s\x1b[K", st.prompt, st.line)
	if st.cursor < len(st.line) {
		fmt.Fprintf(e.out, "\r%s%s", st.prompt, st.line[:st.cursor])
	}
}

func (e *lineEditor) control(st *editState, seq string) {
	switch seq {
	case "A":
		e.historyUp(st)
	case "B":
		e.historyDown(st)
	case "D":
		if st.cursor > 0 {
			st.cursor--
			e.redraw(st)
		}
	case "C":
		if st.cursor < len(st.line) {
			st.cursor++
			e.redraw(st)
		}
	case "H":
		st.cursor = 0
		e.redraw(st)
	case "F":
		st.cursor = len(st.line)
		e.redraw(st)
	case "3~":
		if st.cursor < len(st.line) {
			st.line = append(st.line[:st.cursor], st.line[st.cursor+1:]...)
			e.redraw(st)
		}
	case "1;5D", "5D":
		e.wordLeft(st)
	case "1;5C", "5C":
		e.wordRight(st)
	case "3;5~":
		e.deleteWordForward(st)
	}
}

func (e *lineEditor) historyUp(st *editState) {
	if len(e.history) == 0 {
		return
	}
	if !st.browsing {
		st.draft = string(st.line)
		st.browsing = true
		st.histPos = len(e.history)
	}
	if st.histPos == 0 {
		return
	}
	st.histPos--
	st.line = append(st.line[:0], e.history[st.histPos]...)
	st.cursor = len(st.line)
	e.redraw(st)
}

func (e *lineEditor) historyDown(st *editState) {
	if !st.browsing {
		return
	}
	if st.histPos < len(e.history)-1 {
		st.histPos++
		st.line = append(st.line[:0], e.history[st.histPos]...)
	} else {
		st.histPos = len(e.history)
		st.line = append(st.line[:0], st.draft...)
		st.browsing = false
	}
	st.cursor = len(st.line)
	e.redraw(st)
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

// wordStart is the start of the word before i.
func wordStart(line []byte, i int) int {
	for i > 0 && isBlank(line[i-1]) {
		i--
	}
	for i > 0 && !isBlank(line[i-1]) {
		i--
	}
	return i
}

// wordEnd is the end of the word after i.
func wordEnd(line []byte, i int) int {
	for i < len(line) && isBlank(line[i]) {
		i++
	}
	for i < len(line) && !isBlank(line[i]) {
		i++
	}
	return i
}

func (e *lineEditor) wordLeft(st *editState) {
	if st.cursor > 0 {
		st.cursor = wordStart(st.line, st.cursor)
		e.redraw(st)
	}
}

func (e *lineEditor) wordRight(st *editState) {
	if st.cursor < len(st.line) {
		st.cursor = wordEnd(st.line, st.cursor)
		e.redraw(st)
	}
}

func (e *lineEditor) deleteWordBack(st *editState) {
	if st.cursor == 0 {
		return
	}
	start := wordStart(st.line, st.cursor)
	st.line = append(st.line[:start], st.line[st.cursor:]...)
	st.cursor = start
	e.redraw(st)
}

func (e *lineEditor) deleteWordForward(st *editState) {
	if st.cursor >= len(st.line) {
		return
	}
	end := wordEnd(st.line, st.cursor)
	st.line = append(st.line[:st.cursor], st.line[end:]...)
	e.redraw(st)
}
