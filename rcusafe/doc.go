// Package rcusafe validates caller discipline around rcu: it rejects
// read-side Dereference calls made without an open read-section,
// rejects write-side publish/synchronize/barrier calls made from inside
// one, and checks Barrier calls against the ticket it records for the
// RCU callback goroutine. lfmap's operations are not wrapped here, so
// calls made on a map directly are not checked.
//
// The package is split across two build-tag-gated files so that a
// "nosafety" build compiles every check out entirely, for zero added
// state and zero added branches: see safety.go (default) and
// nosafety.go (-tags nosafety). Both expose the identical
// Ticket/Runtime surface.
//
// Every wrapped call mirrors its unchecked counterpart, taking the
// caller's Ticket where a check needs it, and the package adds a test-mode toggle plus a narrow "safety checks disabled"
// window used only during root-type bootstrap, when the first type
// node must be published before any type checking is possible.
package rcusafe
