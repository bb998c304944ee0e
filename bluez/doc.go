// Package bluez backs a session with the BlueZ daemon over D-Bus.
//
// The low energy half rides the go-bluetooth bindings; classic audio
// and remote control talk to the org.bluez media interfaces on the
// system bus directly, because no binding covers them. Some
// documentation for the BlueZ D-Bus interface:
// https://git.kernel.org/pub/scm/bluetooth/bluez.git/tree/doc
package bluez
