// Package bthal is a host-side hardware abstraction layer for
// Bluetooth stacks. It exposes classic audio (A2DP), remote control
// (AVRCP), the GATT client and server roles, and LE advertising
// through one callback-driven session, with every stack event
// serialized onto a single dispatch goroutine.
//
// A session runs against a pluggable backend: BlueZ over D-Bus on
// Linux, CoreBluetooth on macOS, a serial HCI controller on any
// operating system, or an in-memory fake for tests and development.
package bthal
