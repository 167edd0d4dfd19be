package segment

import (
	"github.com/cockroachdb/errors"

	"github.com/segmem/segfit/memutils"
)

const (
	// DefaultReservationPages is the reservation used by NewReserved when the caller
	// passes 0: 64k pages, a 256Mb heap ceiling.
	DefaultReservationPages = 65536
)

// ReservedProvider is a Provider over a single fixed reservation allocated up front.
// Extending the heap only advances a break offset within the reservation, so heap
// offsets and previously returned slices stay stable for the provider's lifetime.
// The reservation itself is the exhaustion boundary: once the break reaches the end
// of it, Extend fails with ErrExhausted.
type ReservedProvider struct {
	reservation []byte
	brk         int
}

var _ Provider = &ReservedProvider{}

// NewReserved creates a ReservedProvider with a reservation of reservationPages
// pages, or DefaultReservationPages if reservationPages is 0. The heap starts at
// zero pages; call Init before use.
func NewReserved(reservationPages int) (*ReservedProvider, error) {
	if reservationPages == 0 {
		reservationPages = DefaultReservationPages
	}
	if reservationPages < 0 {
		return nil, errors.Newf("reservationPages is negative: %d", reservationPages)
	}

	return &ReservedProvider{
		reservation: make([]byte, reservationPages*PageSize),
	}, nil
}

func (p *ReservedProvider) Init(initialPages int) error {
	if initialPages < 0 {
		return errors.Newf("initialPages is negative: %d", initialPages)
	}

	size := initialPages * PageSize
	if size > len(p.reservation) {
		return errors.Wrapf(ErrExhausted, "initial size %d exceeds reservation %d", size, len(p.reservation))
	}

	// Stale bytes from a previous run must not leak into the fresh heap.
	zero(p.reservation[:p.brk])
	p.brk = size
	return nil
}

func (p *ReservedProvider) Extend(pages int) (int, error) {
	if pages <= 0 {
		return 0, errors.Newf("pages must be positive: %d", pages)
	}

	size := pages * PageSize
	if p.brk+size > len(p.reservation) {
		return 0, errors.Wrapf(ErrExhausted, "break %d + %d pages exceeds reservation %d", p.brk, pages, len(p.reservation))
	}

	offset := p.brk
	p.brk += size
	return offset, nil
}

func (p *ReservedProvider) Size() int {
	return p.brk
}

func (p *ReservedProvider) Bytes() []byte {
	return p.reservation[:p.brk]
}

// ReservationPages returns the total reservation in pages, the hard ceiling on
// heap growth.
func (p *ReservedProvider) ReservationPages() int {
	return memutils.DivideRoundingUp(len(p.reservation), PageSize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
