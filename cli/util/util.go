// Package util provides small helpers shared by the CLI commands.
package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// ShortHash abbreviates a hex digest for tables
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// TruncateString truncates a string to the specified length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// ReadSecret prompts on stderr and reads a line from the terminal without echo
func ReadSecret(prompt string) (string, error) {
	_, _ = os.Stderr.WriteString(prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = os.Stderr.WriteString("\n")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
