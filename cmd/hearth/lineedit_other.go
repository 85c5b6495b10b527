//go:build !linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// lineEditor falls back to buffered line reads where raw terminal mode is
// not wired up.
type lineEditor struct {
	out   io.Writer
	stdin *bufio.Reader
}

func newLineEditor() *lineEditor {
	return &lineEditor{out: os.Stdout, stdin: bufio.NewReader(os.Stdin)}
}

func (e *lineEditor) ReadLine(prompt string) (string, error) {
	fmt.Fprint(e.out, prompt)
	s, err := e.stdin.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return trimTrailingNewline(s), nil
}
