package budget

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal")

type Prompter interface {
	Confirm(ctx context.Context, title, description string) (bool, error)
}

// TerminalPrompter asks through a huh confirm form on the controlling terminal.
type TerminalPrompter struct {
	in *os.File
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin}
}

func (p *TerminalPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	if !isatty.IsTerminal(p.in.Fd()) && !isatty.IsCygwinTerminal(p.in.Fd()) {
		return false, ErrNotInteractive
	}

	var confirmed bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return confirmed, err
}

// StaticPrompter answers every question the same way and remembers them.
type StaticPrompter struct {
	Answer bool

	mutex sync.Mutex
	asked []string
}

func (p *StaticPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.asked = append(p.asked, title)
	return p.Answer, nil
}

func (p *StaticPrompter) Asked() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.asked...)
}
