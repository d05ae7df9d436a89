package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(n int) *Table {
	return NewTable(make([]byte, n*4))
}

func TestTableAllocateLinksChainAndTerminates(t *testing.T) {
	tbl := newTable(16)

	first, err := tbl.Allocate(3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first, uint32(2))

	clusters := tbl.ChainClusters(first)
	assert.Len(t, clusters, 3)
	assert.True(t, IsEndOfChain(tbl.Get(clusters[2])))
}

func TestTableAllocateNoSpace(t *testing.T) {
	tbl := newTable(6) // clusters 2..5: 4 usable entries

	_, err := tbl.Allocate(4)
	require.NoError(t, err)

	_, err = tbl.Allocate(1)
	require.Error(t, err)
	assert.Equal(t, KindNoSpace, KindOf(err))
}

func TestTableFreeIsIdempotent(t *testing.T) {
	tbl := newTable(16)

	first, err := tbl.Allocate(4)
	require.NoError(t, err)
	chain := tbl.ChainClusters(first)
	require.Len(t, chain, 4)

	tbl.Free(first)
	for _, c := range chain {
		assert.Equal(t, uint32(FATFree), tbl.Get(c), "cluster %d should be freed, including the chain's last cluster", c)
	}

	// freeing again must not panic or walk into freed/garbage entries
	assert.NotPanics(t, func() { tbl.Free(first) })
}

func TestTableFreeSingleClusterChain(t *testing.T) {
	tbl := newTable(16)

	first, err := tbl.Allocate(1)
	require.NoError(t, err)
	require.True(t, IsEndOfChain(tbl.Get(first)))

	tbl.Free(first)
	assert.Equal(t, uint32(FATFree), tbl.Get(first))
}

func TestTableFreeDoesNotTouchUnreachableClusters(t *testing.T) {
	tbl := newTable(16)

	a, err := tbl.Allocate(2)
	require.NoError(t, err)
	b, err := tbl.Allocate(2)
	require.NoError(t, err)

	tbl.Free(a)

	bClusters := tbl.ChainClusters(b)
	assert.Len(t, bClusters, 2)
	for _, c := range bClusters {
		assert.NotEqual(t, uint32(FATFree), tbl.Get(c))
	}
}

func TestTableExtendGrowsExistingChain(t *testing.T) {
	tbl := newTable(32)

	first, err := tbl.Allocate(2)
	require.NoError(t, err)

	start, err := tbl.Extend(first, 5)
	require.NoError(t, err)
	assert.Equal(t, first, start)

	clusters := tbl.ChainClusters(first)
	assert.Len(t, clusters, 5)
}

func TestTableExtendNoopWhenAlreadyLongEnough(t *testing.T) {
	tbl := newTable(32)

	first, err := tbl.Allocate(4)
	require.NoError(t, err)

	start, err := tbl.Extend(first, 2)
	require.NoError(t, err)
	assert.Equal(t, first, start)
	assert.Len(t, tbl.ChainClusters(first), 4)
}

func TestTableExtendFromZeroAllocatesFresh(t *testing.T) {
	tbl := newTable(32)

	start, err := tbl.Extend(0, 3)
	require.NoError(t, err)
	assert.Len(t, tbl.ChainClusters(start), 3)
}

func TestTableSetPreservesTopFourBits(t *testing.T) {
	tbl := newTable(8)
	tbl.entries[2] = 0xF0000000
	tbl.set(2, 5)
	assert.Equal(t, uint32(0xF0000005), tbl.entries[2])
	assert.Equal(t, uint32(5), tbl.Get(2))
}

func TestChainClustersEmptyForZeroStart(t *testing.T) {
	tbl := newTable(8)
	assert.Nil(t, tbl.ChainClusters(0))
}
