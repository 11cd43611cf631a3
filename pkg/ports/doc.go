// Package ports defines the interfaces between the orchestration core and
// its external collaborators: session persistence, progress records,
// distributed locking, the asynchronous task queue and template rendering.
//
// Adapters live in pkg/adapters; the core never imports an adapter directly.
package ports
