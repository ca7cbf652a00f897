package kernel

import "errors"

// Socket-option numbers for the PvD kernel ABI this daemon speaks. They
// live alongside SOL_SOCKET on a throwaway socket, per
// original_source/src/libpvd.c. The kernel module that defines them is
// out-of-tree; these values are this implementation's own assignment
// (there is no upstream Go binding for them), documented in DESIGN.md.
const (
	solPvd = 0x0113

	optGetPvdList       = 220
	optGetPvdAttributes = 221
	optCreatePvd        = 222
	optUpdatePvdAttr    = 223
	optBindToPvd        = 224
	optGetBoundPvd      = 225
)

// BindType selects the SO_BINDTOPVD behavior requested for a scope.
type BindType int

const (
	// BindInherit clears any binding, reverting to the parent scope.
	BindInherit BindType = iota
	// BindNone forces the scope unbound regardless of parent.
	BindNone
	// BindOne forces the scope bound to a specific PvD name.
	BindOne
)

// ErrUnsupportedPlatform is returned by every Conn operation on a
// platform without a PvD-aware kernel binding. Callers treat it exactly
// like ENOPROTOOPT: not fatal, triggers the RA-only fallback path.
var ErrUnsupportedPlatform = errors.New("kernel: PvD socket options not supported on this platform")

// ErrNotBound is not returned by the relaxed GetBoundPvd getter itself
// (that reports "unbound" via its ok return value); it exists for
// callers in a context that wants an error-shaped signal, e.g. logging.
var ErrNotBound = errors.New("kernel: scope is not bound to a PvD")
