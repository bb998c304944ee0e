// Package macbt backs a session with CoreBluetooth through the cbgo
// bindings.
//
// CoreBluetooth is a low energy API: the classic audio and remote
// control profiles are not reachable from it, so their accessors
// return nil and a session reports those profiles as unavailable. It
// also hides the public device address; peripherals are identified by
// a locally stable pseudo address folded from their CoreBluetooth
// identifier.
package macbt
