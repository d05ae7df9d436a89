package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mknodChild(t *testing.T, parent *File, name string) *File {
	t.Helper()
	used, err := parent.ShortNames()
	require.NoError(t, err)

	_, err = parent.InsertChild(name, AttrArchive, 0, 0, used)
	require.NoError(t, err)

	children, err := parent.ReadChildren(parent.Path())
	require.NoError(t, err)
	for _, c := range children {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("child %q not found after insert", name)
	return nil
}

func TestPwritePreadRoundTrip(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()

	f := mknodChild(t, root, "a.txt")

	n, err := f.Pwrite(0, []byte("Hello revolution"))
	require.NoError(t, err)
	assert.Equal(t, uint32(16), n)
	assert.Equal(t, uint32(16), f.Size())

	got, err := f.Pread(0, 16)
	require.NoError(t, err)
	assert.Equal(t, "Hello revolution", string(got))
}

func TestPwriteExtendsAcrossMultipleClusters(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "big.bin")

	// three cluster's worth of data (1 sector = 512 bytes/cluster here)
	buf := make([]byte, 512*3)
	for i := range buf {
		buf[i] = byte(i)
	}

	_, err := f.Pwrite(0, buf)
	require.NoError(t, err)

	got, err := f.Pread(0, uint32(len(buf)))
	require.NoError(t, err)
	assert.Equal(t, buf, got)
}

func TestPwriteRejectsOffsetPastEOF(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	_, err := f.Pwrite(10, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindOverflow, KindOf(err))
}

func TestPwriteZeroLengthIsNoop(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	n, err := f.Pwrite(0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)
	assert.Equal(t, uint32(0), f.Size())
}

func TestPreadPastEOFReturnsNoBytes(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	_, err := f.Pwrite(0, []byte("hi"))
	require.NoError(t, err)

	got, err := f.Pread(100, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTruncateShrinksAndFreesClusters(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	buf := make([]byte, 512*3)
	_, err := f.Pwrite(0, buf)
	require.NoError(t, err)

	startCluster := f.StartCluster()
	require.NotZero(t, startCluster)

	require.NoError(t, f.Truncate(5))
	assert.Equal(t, uint32(5), f.Size())

	remaining := v.table.ChainClusters(f.StartCluster())
	assert.Len(t, remaining, 1)
}

func TestTruncateToZeroFreesWholeChain(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	_, err := f.Pwrite(0, []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(0))
	assert.Equal(t, uint32(0), f.Size())
	assert.Equal(t, uint32(0), f.StartCluster())
}

func TestTruncateExtendZeroFills(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	_, err := f.Pwrite(0, []byte("ab"))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(5))
	got, err := f.Pread(0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0}, got)
}

func TestUnlinkFreesChainAndDeleteRemovesDentry(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "a.txt")

	_, err := f.Pwrite(0, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, f.Unlink())
	require.NoError(t, root.DeleteChild(f.SlotIndex()))

	children, err := root.ReadChildren(root.Path())
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestHideSetsHiddenAndSystemAttrs(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()
	f := mknodChild(t, root, "fs.log")

	require.NoError(t, f.Hide())
	assert.True(t, f.IsHidden())

	children, err := root.ReadChildren(root.Path())
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.True(t, children[0].IsHidden())
}

func TestNewChildDirectoryClusterSeedsDotEntries(t *testing.T) {
	v := newTestVolume(t)
	root := v.Root()

	used, err := root.ShortNames()
	require.NoError(t, err)

	selfCluster, err := root.NewChildDirectoryCluster()
	require.NoError(t, err)
	require.NotZero(t, selfCluster)

	_, err = root.InsertChild("sub", AttrDir, selfCluster, 0, used)
	require.NoError(t, err)

	children, err := root.ReadChildren(root.Path())
	require.NoError(t, err)
	require.Len(t, children, 1)
	sub := children[0]
	assert.True(t, sub.IsDirectory())
	assert.Equal(t, selfCluster, sub.StartCluster())

	raw, err := v.readCluster(selfCluster)
	require.NoError(t, err)
	dot := decodeShortDentry(raw[0:dentrySize])
	dotdot := decodeShortDentry(raw[dentrySize : 2*dentrySize])
	assert.Equal(t, ".", dot.ShortName)
	assert.Equal(t, selfCluster, dot.FirstCluster)
	assert.Equal(t, "..", dotdot.ShortName)
	assert.Equal(t, uint32(0), dotdot.FirstCluster) // root's own cluster reference is 0 by convention
}
