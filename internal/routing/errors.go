package routing

import "errors"

var (
	// ErrNoRouteFound means neither a direct pool nor a two-hop path
	// through the intermediary exists for the pair.
	ErrNoRouteFound = errors.New("no route found")

	// ErrInvalidRoute marks a structurally unusable request, a same-token
	// swap above all.
	ErrInvalidRoute = errors.New("invalid route")

	// ErrPoolNotFound means a hop's pool is missing or cannot quote the
	// requested amount.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrAmountNotReady means the input amount does not parse to a positive
	// value yet. Callers treat it as "no quote yet", not as a failure.
	ErrAmountNotReady = errors.New("amount not ready")
)
