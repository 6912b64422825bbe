package model

import "errors"

var (
	// ErrInvalidEvent marks a structural or validation failure. Local to the
	// originating caller, never broadcast.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrPersistence marks a failed apply call-out. Retryable by the caller,
	// nothing was made visible to other clients.
	ErrPersistence = errors.New("persistence error")

	// ErrConflictUnresolved marks a manual-strategy conflict. The conflict is
	// retained for inspection, nothing is applied.
	ErrConflictUnresolved = errors.New("conflict unresolved")

	// ErrTransport marks a send failure on one connection. Isolated to that
	// connection, never aborts a broadcast to others.
	ErrTransport = errors.New("transport error")
)
