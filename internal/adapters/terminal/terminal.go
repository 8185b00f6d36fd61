// Package terminal implements the Prompter over a line-oriented terminal.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter reads answers line by line from in and writes prompts to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Prompter over the given streams.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Ask prints the prompt and returns the next input line, trimmed.
func (p *Prompter) Ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question. Only "y" and "yes" (case-insensitive)
// count as consent.
func (p *Prompter) Confirm(prompt string) (bool, error) {
	answer, err := p.Ask(prompt + " [y/N] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
