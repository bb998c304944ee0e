//go:build linux || darwin

package rawterm

import (
	"os"

	"golang.org/x/crypto/ssh/terminal"
)

var saved *terminal.State

// Configure switches the terminal to raw mode. Restore undoes it; the
// usual shape is
//
//	rawterm.Configure()
//	defer rawterm.Restore()
func Configure() error {
	state, err := terminal.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	saved = state
	return nil
}

// Restore returns the terminal to the state Configure saved. Calling
// it without a prior Configure is a no-op.
func Restore() error {
	if saved == nil {
		return nil
	}
	err := terminal.Restore(int(os.Stdin.Fd()), saved)
	saved = nil
	return err
}

// Getchar reads one character from stdin. A CR from the enter key
// comes back as LF.
func Getchar() (byte, error) {
	var b [1]byte
	if _, err := os.Stdin.Read(b[:]); err != nil {
		return 0, err
	}
	if b[0] == '\r' {
		return '\n', nil
	}
	return b[0], nil
}

// Putchar writes one character, expanding LF to CRLF for the
// terminal.
func Putchar(ch byte) {
	if ch == '\n' {
		os.Stdout.Write([]byte{'\r'})
	}
	os.Stdout.Write([]byte{ch})
}
