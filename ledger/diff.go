package ledger

import (
	"tangle-core/models"
)

// Diff holds the signed balance change per address produced by one confirmation round.
type Diff map[models.Address]int64

// Add accumulates delta for addr, dropping entries that net to zero.
func (d Diff) Add(addr models.Address, delta int64) {
	if sum := d[addr] + delta; sum != 0 {
		d[addr] = sum
	} else {
		delete(d, addr)
	}
}

// Merge accumulates all deltas of other.
func (d Diff) Merge(other map[models.Address]int64) {
	for addr, delta := range other {
		d.Add(addr, delta)
	}
}

// Sum is zero for every diff that only moves value.
func (d Diff) Sum() int64 {
	var sum int64
	for _, delta := range d {
		sum += delta
	}
	return sum
}

// Addresses returns the touched addresses in byte order.
func (d Diff) Addresses() []models.Address {
	addrs := make([]models.Address, 0, len(d))
	for addr := range d {
		addrs = append(addrs, addr)
	}
	return models.SortAddresses(addrs)
}
