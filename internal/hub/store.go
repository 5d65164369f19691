package hub

import "context"

// UpdateFunc computes the next record for a key from its current value (nil
// when absent). Returning an error aborts the update without writing.
type UpdateFunc func(cur *Record) (*Record, error)

// Store is the durable keyed storage behind a Hub.
//
// Update must run fn and write its result atomically with respect to every
// other Update on the same key, including Updates from other processes
// sharing the backend. Errors returned by fn must be returned unchanged (or
// wrapped with %w). Implementations may call fn more than once when they
// retry an optimistic transaction; only the final successful call is
// committed.
type Store interface {
	Get(ctx context.Context, key SessionKey) (Record, bool, error)
	Update(ctx context.Context, key SessionKey, fn UpdateFunc) error

	// Bootstrap marks the store initialized. It returns ErrAlreadyInitialized
	// when a previous Bootstrap already succeeded.
	Bootstrap(ctx context.Context) error
	Initialized(ctx context.Context) (bool, error)

	Close() error
}
