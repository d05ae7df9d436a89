package fat

import "encoding/binary"

// Table is the in-memory file allocation table: a sequence of 32-bit
// entries indexed by cluster number, per spec.md §3. It is the sole
// authoritative mutator of cluster-chain state; writes are flushed to
// every on-disk FAT copy by Volume.flushFAT.
type Table struct {
	entries []uint32
	cursor  uint32 // last cluster allocated from, for scan-forward allocation
}

// NewTable decodes one FAT copy's raw bytes into a Table.
func NewTable(raw []byte) *Table {
	n := len(raw) / 4
	entries := make([]uint32, n)
	for i := 0; i < n; i++ {
		entries[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return &Table{entries: entries, cursor: 2}
}

// Bytes re-encodes the table for writing back to disk.
func (t *Table) Bytes() []byte {
	raw := make([]byte, len(t.entries)*4)
	for i, e := range t.entries {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], e)
	}
	return raw
}

func (t *Table) count() uint32 { return uint32(len(t.entries)) }

// Get returns the raw entry at cluster, masked to its significant 28
// bits.
func (t *Table) Get(cluster uint32) uint32 {
	return t.entries[cluster] & fatEntryMask
}

// IsEndOfChain reports whether value is one of the reserved
// end-of-chain markers (≥ 0x0FFFFFF8), per spec.md §3.
func IsEndOfChain(value uint32) bool {
	return value&fatEntryMask >= FATEndOfChain
}

// set stores value into cluster, preserving the existing top 4 bits of
// the prior entry, per spec.md §6 ("the top 4 bits are preserved on
// write").
func (t *Table) set(cluster, value uint32) {
	top := t.entries[cluster] &^ fatEntryMask
	t.entries[cluster] = top | (value & fatEntryMask)
}

// ChainClusters returns every cluster in the chain starting at start,
// in order, stopping at (and excluding) the end-of-chain marker. A
// start of 0 yields an empty chain.
func (t *Table) ChainClusters(start uint32) []uint32 {
	if start == 0 {
		return nil
	}
	var clusters []uint32
	c := start
	seen := map[uint32]bool{}
	for c != 0 && !IsEndOfChain(t.Get(c)) {
		if seen[c] {
			break // defensive: a cyclic chain should never occur (spec.md §3 invariant)
		}
		seen[c] = true
		clusters = append(clusters, c)
		c = t.Get(c)
	}
	if c != 0 && !seen[c] {
		clusters = append(clusters, c)
	}
	return clusters
}

// Allocate finds n FREE clusters, links them into a chain terminated
// by FATEndOfChain, and returns the first cluster. It fails with
// KindNoSpace if fewer than n FREE clusters exist, per spec.md §4.2.
func (t *Table) Allocate(n uint32) (uint32, error) {
	if n == 0 {
		return 0, newErr(KindIO, "allocate: n must be > 0")
	}

	free := make([]uint32, 0, n)
	count := t.count()
	start := t.cursor
	if start < 2 || start >= count {
		start = 2
	}

	for i := uint32(0); i < count-2 && uint32(len(free)) < n; i++ {
		c := 2 + (start-2+i)%(count-2)
		if t.Get(c) == FATFree {
			free = append(free, c)
		}
	}
	if uint32(len(free)) < n {
		return 0, newErr(KindNoSpace, "not enough free clusters")
	}

	for i, c := range free {
		if i+1 < len(free) {
			t.set(c, free[i+1])
		} else {
			t.set(c, FATEndOfChain)
		}
	}
	t.cursor = free[len(free)-1]
	return free[0], nil
}

// Free walks the chain starting at c, setting every entry to FREE.
// The last cluster (the one holding the end-of-chain marker) is freed
// too. Idempotent: start == 0, or a chain that has already been freed
// (its first entry is already FREE), returns with no effect.
func (t *Table) Free(c uint32) {
	for c != 0 && !IsEndOfChain(t.Get(c)) {
		next := t.Get(c)
		t.set(c, FATFree)
		c = next
	}
	if c != 0 {
		t.set(c, FATFree)
	}
}

// Extend grows the chain starting at start so that it has at least n
// total clusters, allocating and linking additional clusters as
// needed. If start is 0, a brand-new chain of n clusters is allocated
// and its first cluster returned.
func (t *Table) Extend(start uint32, n uint32) (uint32, error) {
	if start == 0 {
		return t.Allocate(n)
	}

	existing := t.ChainClusters(start)
	if uint32(len(existing)) >= n {
		return start, nil
	}

	need := n - uint32(len(existing))
	first, err := t.Allocate(need)
	if err != nil {
		return 0, err
	}
	last := existing[len(existing)-1]
	t.set(last, first)
	return start, nil
}
