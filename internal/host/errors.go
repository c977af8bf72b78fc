// Package host implements the single write path to the vault: schema
// validation, ID assignment, task FSM guards, link-graph maintenance with a
// write-ahead journal, and event emission. Tools and plugins never touch
// entity files directly; every mutation flows through the Host.
package host

import "errors"

var (
	// ErrValidation marks metadata that fails its kind schema, a malformed
	// argument, or a patch that touches protected fields.
	ErrValidation = errors.New("host: validation failed")

	// ErrNotFound marks a read, update, or delete of an entity that does
	// not exist.
	ErrNotFound = errors.New("host: entity not found")

	// ErrDuplicateID marks a create with an ID that is already taken.
	ErrDuplicateID = errors.New("host: duplicate entity id")

	// ErrFSMGuard marks a task state transition the FSM does not permit.
	ErrFSMGuard = errors.New("host: transition not permitted")

	// ErrConflict marks an ambiguous alias: the old ID maps to a new one
	// but a live entity now occupies the old ID.
	ErrConflict = errors.New("host: alias conflicts with live entity")
)
