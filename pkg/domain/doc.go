// Package domain holds the core value types of the espalier orchestration
// engine: sessions and their dialogue, machine definitions, invocation plans
// and their compiled form, progress records and the persistence policy that
// governs dialogue recording.
//
// The package has no dependencies. Everything here is either a plain value or
// a function reference resolved at machine construction time; all I/O lives
// behind the interfaces in pkg/ports.
package domain
