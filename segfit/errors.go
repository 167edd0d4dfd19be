package segfit

import "github.com/pkg/errors"

// ErrInvalidSize is the error returned from Alloc or Realloc when the requested size
// is zero or exceeds MaxRequestSize
var ErrInvalidSize error = errors.New("requested size must be between 1 byte and the platform maximum")

// ErrOutOfMemory is the error returned from Alloc or Realloc when the segment provider
// cannot supply the pages needed to satisfy the request. Allocator state is unchanged
// when this is returned.
var ErrOutOfMemory error = errors.New("segment provider cannot supply the requested pages")

// ErrInvalidPointer is the error returned from Realloc or Payload when the provided
// pointer does not refer to a live allocation
var ErrInvalidPointer error = errors.New("pointer is not a live allocation")
