//go:build !linux && !darwin

package main

// Raw terminal handling is only wired up for Unix-like systems.
func (s *shell) cmdMonitor(args []string) {
	s.printf("monitor mode is not supported on this platform")
}
