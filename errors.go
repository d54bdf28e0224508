package surgecache

import "errors"

var (
	// ErrNoLock is returned by GetOrLoadGuarded when no lock service was
	// configured.
	ErrNoLock = errors.New("surgecache: guarded load requires a lock service")

	errNoNamespace = errors.New("surgecache: namespace is required")
	errNoShared    = errors.New("surgecache: shared store is required")
	errNoCodec     = errors.New("surgecache: codec is required")
)
