package segment

import "github.com/pkg/errors"

//go:generate mockgen -source provider.go -destination mocks/provider.go

const (
	// PageSize is the granularity, in bytes, at which providers hand out heap memory.
	PageSize = 4096
)

// ErrExhausted is the error returned from Provider.Extend when the provider cannot
// supply the requested number of pages
var ErrExhausted error = errors.New("segment provider cannot supply more pages")

// Provider supplies page-granular heap memory to an allocator. The heap is a single
// region addressed by byte offsets starting at 0. Once extended, pages are never
// returned to the provider.
//
// Providers are not synchronized. The consumer must guarantee they are used from only
// one goroutine at a time or are synchronized by some other mechanism.
type Provider interface {
	// Init establishes the heap, or wipes it back to initialPages pages if it already
	// exists. Consumers may call it repeatedly to reset all heap state between
	// independent runs.
	Init(initialPages int) error
	// Extend grows the heap by pages*PageSize contiguous bytes and returns the byte
	// offset of the start of the new region. It returns an error wrapping ErrExhausted
	// if the provider cannot supply that many pages; the heap is unchanged in that case.
	Extend(pages int) (int, error)
	// Size returns the current heap size in bytes. Always a multiple of PageSize.
	Size() int
	// Bytes returns the live heap region [0, Size()). The returned slice aliases the
	// provider's backing memory, so writes through it are writes to the heap. Slices
	// taken before an Extend call remain valid afterward.
	Bytes() []byte
}
