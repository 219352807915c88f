// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/ergochat/readline"
	"github.com/pterm/pterm"
)

// Terminal is the interactive Console: readline for input with persistent
// history, pterm menus for choices and $VISUAL or $EDITOR for editing SQL.
type Terminal struct {
	rl *readline.Instance
}

// NewTerminal opens the terminal. historyFile may be empty to keep no history.
func NewTerminal(historyFile string) (*Terminal, error) {
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       `\q`,
	})
	if err != nil {
		return nil, fmt.Errorf("init line editor: %w", err)
	}
	return &Terminal{rl: rl}, nil
}

func (t *Terminal) Close() error { return t.rl.Close() }

func (t *Terminal) ReadLine(p string) (string, error) {
	t.rl.SetPrompt(p)
	line, err := t.rl.ReadLine()
	return line, inputError(err)
}

// EditLine opens the user's editor on initial when one is configured and
// falls back to editing a single line in place.
func (t *Terminal) EditLine(p, initial string) (string, error) {
	if editor := editorCommand(); editor != "" {
		return editExternal(editor, initial)
	}
	t.rl.SetPrompt(p)
	line, err := t.rl.ReadLineWithDefault(strings.ReplaceAll(initial, "\n", " "))
	return line, inputError(err)
}

func (t *Terminal) Select(title string, options []string) (int, error) {
	interrupted := false
	choice, err := pterm.DefaultInteractiveSelect.
		WithDefaultText(title).
		WithOptions(options).
		WithOnInterruptFunc(func() { interrupted = true }).
		Show()
	if interrupted {
		return -1, ErrInterrupt
	}
	if err != nil {
		return -1, err
	}
	for i, o := range options {
		if o == choice {
			return i, nil
		}
	}
	return -1, ErrInterrupt
}

func inputError(err error) error {
	if errors.Is(err, readline.ErrInterrupt) {
		return ErrInterrupt
	}
	return err
}

func editorCommand() string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

func editExternal(editor, initial string) (string, error) {
	f, err := os.CreateTemp("", "psqlm-*.sql")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := io.WriteString(f, initial+"\n"); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], f.Name())...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("editor %s: %w", parts[0], err)
	}
	b, err := os.ReadFile(f.Name())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Unattended is the Console used when nobody is at the terminal. There is
// no input, and every menu answers as if Ctrl-C was pressed, so previews are
// always discarded.
type Unattended struct{}

func (Unattended) ReadLine(string) (string, error) { return "", io.EOF }

func (Unattended) EditLine(string, string) (string, error) { return "", ErrInterrupt }

func (Unattended) Select(string, []string) (int, error) { return -1, ErrInterrupt }
