// Package recovery submits failure recovery for workflow instances,
// enforcing a hard per-instance attempt budget backed by a durable
// append-only history. A failed submission consumes budget the same as a
// successful one, so a misbehaving orchestrator cannot be hammered forever.
package recovery
