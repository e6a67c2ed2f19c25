package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LinePrompter asks questions on out and reads one answer per line from in.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a LinePrompter.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

func (p *LinePrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}

// Confirm asks a yes/no question. Anything but an answer starting with "y"
// is a no.
func (p *LinePrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N] ", question)
	answer, err := p.readLine()
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(answer, "y"), nil
}

// Choose asks until the answer is an option or an unambiguous prefix of one.
func (p *LinePrompter) Choose(question string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("no options to choose from")
	}
	for {
		fmt.Fprintf(p.out, "%s [%s] ", question, strings.Join(options, "/"))
		answer, err := p.readLine()
		if err != nil {
			return 0, err
		}
		if i := matchOption(answer, options); i >= 0 {
			return i, nil
		}
		fmt.Fprintf(p.out, "Please answer one of: %s\n", strings.Join(options, ", "))
	}
}

func matchOption(answer string, options []string) int {
	if answer == "" {
		return -1
	}
	match := -1
	for i, o := range options {
		if answer == o {
			return i
		}
		if strings.HasPrefix(o, answer) {
			if match >= 0 {
				return -1
			}
			match = i
		}
	}
	return match
}
