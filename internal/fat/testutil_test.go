package fat

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oksana-fs/fatfuse/internal/disk"
	"github.com/oksana-fs/fatfuse/internal/logger"
)

// Test volume geometry: small enough to build by hand in memory, big
// enough to exercise chain allocation/extension across several
// clusters.
const (
	testSectorSize    = 512
	testSecPerCluster = 1
	testReservedSecs  = 1
	testNumFATs       = 1
	testClusterCount  = 64
)

// buildTestImage hand-assembles a minimal FAT32 boot sector plus a
// zeroed FAT and data area, the way a formatter would, but without
// shelling out to mkfs.fat: one sector per cluster, one FAT copy, a
// single-cluster root directory (cluster 2) already terminated.
func buildTestImage(t *testing.T) string {
	t.Helper()

	clusterBytes := testSectorSize * testSecPerCluster
	fatEntries := testClusterCount + 2
	fatBytes := fatEntries * 4
	fatSectors := (fatBytes + testSectorSize - 1) / testSectorSize

	dataStartSectors := testReservedSecs + testNumFATs*fatSectors
	dataStart := dataStartSectors * testSectorSize
	totalSize := dataStart + testClusterCount*clusterBytes

	buf := make([]byte, totalSize)

	bs := bootSector{}
	copy(bs.oemName[:], "TESTFAT ")
	bs.sectorSize = testSectorSize
	bs.secPerClus = testSecPerCluster
	bs.reservedSec = uint16(testReservedSecs)
	bs.numFATs = testNumFATs
	bs.media = 0xF8
	bs.fatSize32 = uint32(fatSectors)
	bs.rootCluster = 2
	bs.sectors32 = uint32(totalSize / testSectorSize)
	copy(bs.volumeLabel[:], "TESTVOL    ")
	copy(bs.fsType[:], "FAT32   ")

	var hdr bytes.Buffer
	require.NoError(t, binary.Write(&hdr, binary.LittleEndian, &bs))
	copy(buf[0:hdr.Len()], hdr.Bytes())
	buf[510] = 0x55
	buf[511] = 0xAA

	fatStart := testReservedSecs * testSectorSize
	binary.LittleEndian.PutUint32(buf[fatStart+0*4:], 0x0FFFFFF8) // cluster 0 reserved
	binary.LittleEndian.PutUint32(buf[fatStart+1*4:], 0x0FFFFFFF) // cluster 1 reserved
	binary.LittleEndian.PutUint32(buf[fatStart+2*4:], FATEndOfChain)

	f, err := os.CreateTemp(t.TempDir(), "fat32-*.img")
	require.NoError(t, err)
	_, err = f.Write(buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

// newTestVolume mounts a freshly built in-image FAT32 volume for use
// by a single test.
func newTestVolume(t *testing.T) *Volume {
	t.Helper()

	path := buildTestImage(t)
	dev, err := disk.Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	v, err := Mount(dev, Config{Logger: logger.New(io.Discard, logger.ErrorLevel)})
	require.NoError(t, err)
	return v
}
