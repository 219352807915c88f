// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"psqlm/cli/internal/terminal"
)

const promptText = "Anthropic API key: "

// PromptAPIKey asks for the key without echoing it when in is a terminal.
func PromptAPIKey(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, promptText)
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		terminal.ClearPreviousLines(out, len(promptText))
		if err != nil {
			return "", err
		}
		return Validate(string(b))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return Validate(line)
}

// AskYesNo reads a y/n answer; anything but y or yes is no.
func AskYesNo(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
