package adapter

import "errors"

// Sentinel errors an Adapter implementation returns for declared-but-
// absent capabilities and session lookups (spec §4.5 "unsupported
// operations fail with NotSupported ... SessionPersistenceUnsupported").
var (
	ErrNotSupported                  = errors.New("adapter: operation not supported")
	ErrSessionPersistenceUnsupported = errors.New("adapter: session persistence not supported")
	ErrUnknownSession                = errors.New("adapter: unknown session")
	ErrModelUnsupported              = errors.New("adapter: no model satisfies requirements")
	ErrHandlerAlreadyRegistered      = errors.New("adapter: event handler already registered for session")
	ErrRateLimited                   = errors.New("adapter: rate limited")
)
