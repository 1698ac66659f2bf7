// Package prompt asks the operator yes/no questions before destructive
// steps.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"
)

// Confirmer answers a yes/no question. def is the answer assumed when the
// operator just presses enter.
type Confirmer interface {
	Confirm(message string, def bool) (bool, error)
}

// Terminal asks on the controlling terminal, or on Stdin and Stdout when
// they are set (e.g. when alarm is run programmatically).
type Terminal struct {
	Stdin  io.Reader
	Stdout io.Writer
}

func (t Terminal) prompt(message string, def bool) *promptui.Prompt {
	p := &promptui.Prompt{
		Label:     message,
		IsConfirm: true,
	}
	if def {
		p.Default = "y"
	}
	if t.Stdin != nil && t.Stdin != io.Reader(os.Stdin) {
		p.Stdin = io.NopCloser(t.Stdin)
	}
	if t.Stdout != nil && t.Stdout != io.Writer(os.Stdout) {
		p.Stdout = nopWriteCloser{t.Stdout}
	}
	return p
}

func (t Terminal) Confirm(message string, def bool) (bool, error) {
	_, err := t.prompt(message, def).Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, fmt.Errorf("prompt: %w", err)
	}
	return true, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// AutoYes answers every question with yes. It is used when running
// non-interactively.
type AutoYes struct{}

func (AutoYes) Confirm(message string, def bool) (bool, error) { return true, nil }

// Scripted returns prepared answers in order and records the questions.
// Once Answers is exhausted, the default answer is used.
type Scripted struct {
	Answers []bool
	Asked   []string
}

func (s *Scripted) Confirm(message string, def bool) (bool, error) {
	s.Asked = append(s.Asked, message)
	if len(s.Answers) == 0 {
		return def, nil
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return answer, nil
}

// For returns the Confirmer to use: AutoYes when nonInteractive, a Terminal
// on stdin and stdout otherwise.
func For(nonInteractive bool, stdin io.Reader, stdout io.Writer) Confirmer {
	if nonInteractive {
		return AutoYes{}
	}
	return Terminal{Stdin: stdin, Stdout: stdout}
}
