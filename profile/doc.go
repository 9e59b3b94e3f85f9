// Package profile plays scripted pump schedules. A Profile is a list of
// phases; each phase is a set of commands published when it begins, and the
// runner moves to the next phase every interval until stopped.
//
// The built in "alternating-square" profile swaps pumps 1 and 2 every five
// seconds. More profiles can be registered from configuration.
//
// Commands go through the bus like any gateway command, so the bridge
// applies the same validation and ordering to them. Stop always sends
// {"enable":false} to every known pump.
package profile
