package core

import "fmt"

// InvalidID marks an unassigned handle.
const InvalidID uint32 = 0xFFFFFFFF

// IdentifierPool hands out dense uint32 ids, reusing released slots before
// growing. Not safe for concurrent use; owners guard it themselves.
type IdentifierPool struct {
	owners []bool
	free   []uint32
	limit  uint32
	live   uint32
}

// NewIdentifierPool creates a pool. A limit of 0 means unbounded.
func NewIdentifierPool(limit uint32) *IdentifierPool {
	return &IdentifierPool{limit: limit}
}

// Acquire returns a free id or ErrCacheExhausted once limit ids are live.
func (p *IdentifierPool) Acquire() (uint32, error) {
	if n := len(p.free); n > 0 {
		// Existing free spot. Take it.
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.owners[id] = true
		p.live++
		return id, nil
	}

	if p.limit != 0 && uint32(len(p.owners)) >= p.limit {
		return InvalidID, fmt.Errorf("%w: %d ids in use", ErrCacheExhausted, p.limit)
	}

	// No free slots, so push one. The id will be length - 1.
	p.owners = append(p.owners, true)
	p.live++
	return uint32(len(p.owners) - 1), nil
}

// Release returns id to the pool.
func (p *IdentifierPool) Release(id uint32) error {
	if id >= uint32(len(p.owners)) {
		return fmt.Errorf("%w: id '%d' out of range (max=%d)", ErrInvalidHandle, id, len(p.owners))
	}
	if !p.owners[id] {
		return fmt.Errorf("%w: id '%d' already released", ErrInvalidHandle, id)
	}
	p.owners[id] = false
	p.free = append(p.free, id)
	p.live--
	return nil
}

// InUse reports whether id is currently acquired.
func (p *IdentifierPool) InUse(id uint32) bool {
	return id < uint32(len(p.owners)) && p.owners[id]
}

// Live is the number of acquired ids.
func (p *IdentifierPool) Live() int {
	return int(p.live)
}

// Limit is the maximum number of live ids, 0 when unbounded.
func (p *IdentifierPool) Limit() uint32 {
	return p.limit
}

// Capacity is the size of the backing table, live or not.
func (p *IdentifierPool) Capacity() int {
	return len(p.owners)
}
