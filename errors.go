package swrcache

import "errors"

var (
	// ErrInvalidConfig is returned when the freshness/eviction windows are inconsistent.
	ErrInvalidConfig = errors.New("invalid cache config")

	// ErrInvalidKey is the panic value for keys that cannot be serialized.
	ErrInvalidKey = errors.New("invalid cache key")
)
