// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for the minigem CLI.
//
// Colors and markdown rendering are used only on a terminal. NO_COLOR
// disables colors and FORCE_COLOR forces them on.

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// IsTTY reports whether stdin is interactive.
func IsTTY() bool { return isTerminal(os.Stdin) }

// IsStdoutTTY reports whether output goes to a terminal.
func IsStdoutTTY() bool { return isTerminal(os.Stdout) }

// Render widths.
const (
	DefaultTerminalWidth = 80
	MinTerminalWidth     = 40
	MaxRenderWidth       = 100
)

// GetTerminalWidth returns the stdout width clamped to MinTerminalWidth, or
// DefaultTerminalWidth when it cannot be measured.
func GetTerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil || w <= 0:
		return DefaultTerminalWidth
	case w < MinTerminalWidth:
		return MinTerminalWidth
	}
	return w
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

var colorsEnabled = sync.OnceValue(func() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return IsStdoutTTY()
})

// ColorsEnabled reports whether styled output should be produced.
func ColorsEnabled() bool { return colorsEnabled() }

// GetColorProfile returns the termenv profile lipgloss should render with.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// =============================================================================
// INTERACTIVE INPUT
// =============================================================================

// TTYRequiredError is returned when a command must prompt but stdin is piped.
type TTYRequiredError struct {
	Operation string
	Hint      string
}

func (e *TTYRequiredError) Error() string {
	msg := "stdin is not a terminal; cannot " + e.Operation
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// RequiresTTY fails with a TTYRequiredError when stdin is not interactive.
func RequiresTTY(operation, hint string) error {
	if IsTTY() {
		return nil
	}
	return &TTYRequiredError{Operation: operation, Hint: hint}
}
