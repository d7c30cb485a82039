// Package process manipulates a running foreign process on the same
// machine: it allocates and frees memory inside the process, runs
// threads there, loads and unloads modules, and resolves exported
// symbols as the process itself sees them.
//
// All operating system access goes through a Platform, which is
// chosen once when a Process is opened. DefaultPlatform returns the
// Windows implementation. The processtest package provides an
// in-memory Platform for tests.
//
// Remote threads are the only concurrency involved. Thread.Wait is
// the single rendezvous point: memory written by a remote thread must
// not be read back before Wait returns. Wait has no timeout, and a
// remote call that never returns blocks the caller forever.
//
// A Process is not safe for concurrent use, and two Process values
// must not manipulate the same target at the same time.
package process
