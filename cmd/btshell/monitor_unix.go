//go:build linux || darwin

package main

import (
	"bytes"
	"io"

	"github.com/btforge/bthal"
	"github.com/btforge/bthal/rawterm"
)

// crlfWriter expands bare newlines so event lines stay aligned while
// the terminal is in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// cmdMonitor drops the terminal into raw mode and forwards single
// keypresses as passthrough commands until q is pressed.
func (s *shell) cmdMonitor(args []string) {
	if len(args) != 1 {
		s.printf("usage: monitor <addr|#n>")
		return
	}
	addr, ok := s.addrArg(args[0])
	if !ok {
		return
	}

	s.printf("keys: space play/pause, n next, b back, r rewind, f fast-forward, s stop, +/- volume, q quit")
	if err := rawterm.Configure(); err != nil {
		s.printf("error: %v", err)
		return
	}
	out := s.rl.Stdout()
	s.sink.setOut(crlfWriter{out})
	defer func() {
		rawterm.Restore()
		s.sink.setOut(out)
	}()

	ctl := s.sess.AVRCPController()
	playing := false
	for {
		ch, err := rawterm.Getchar()
		if err != nil {
			return
		}

		var key bthal.PassthroughKey
		switch ch {
		case 'q', 0x03:
			return
		case ' ':
			if playing {
				key = bthal.KeyPause
			} else {
				key = bthal.KeyPlay
			}
			playing = !playing
		case 'n':
			key = bthal.KeyForward
		case 'b':
			key = bthal.KeyBackward
		case 'r':
			key = bthal.KeyRewind
		case 'f':
			key = bthal.KeyFastFwd
		case 's':
			key = bthal.KeyStop
			playing = false
		case '+', '=':
			key = bthal.KeyVolumeUp
		case '-':
			key = bthal.KeyVolumeDown
		default:
			continue
		}

		if err := ctl.SendPassthrough(addr, key, bthal.KeyPressed); err != nil {
			s.sink.printf("error: %v", err)
			return
		}
		if err := ctl.SendPassthrough(addr, key, bthal.KeyReleased); err != nil {
			s.sink.printf("error: %v", err)
			return
		}
	}
}
