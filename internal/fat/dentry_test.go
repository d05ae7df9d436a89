package fat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortNameMatchesLongNameEdgeCase(t *testing.T) {
	var raw [11]byte
	copy(raw[:], "README  TXT")
	assert.True(t, shortNameMatchesLongName("README.TXT", raw))
	assert.False(t, shortNameMatchesLongName("readme-long.txt", raw))
}

func TestEncodeDecodeShortDentryRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	var rawName [11]byte
	copy(rawName[:], "FOO     TXT")

	d := &Dentry{
		RawName:      rawName,
		Attr:         AttrArchive,
		FirstCluster: 0x01020304,
		FileSize:     4096,
		CreateTime:   now,
		ModifyTime:   now,
		AccessTime:   now,
	}

	raw := encodeShortDentry(d, rawName)
	require.Len(t, raw, dentrySize)

	decoded := decodeShortDentry(raw)
	assert.Equal(t, d.Attr, decoded.Attr)
	assert.Equal(t, d.FirstCluster, decoded.FirstCluster)
	assert.Equal(t, d.FileSize, decoded.FileSize)
	assert.Equal(t, "FOO.TXT", decoded.ShortName)
	// FAT timestamps only carry 2-second resolution and no timezone.
	assert.Equal(t, now.Second()/2*2, decoded.ModifyTime.Second())
}

func TestEncodeChildSlotsSkipsLongNameWhenShortNameMatches(t *testing.T) {
	var rawName [11]byte
	copy(rawName[:], "FOO     TXT")
	d := &Dentry{RawName: rawName, Attr: AttrArchive}

	slots := encodeChildSlots(d, rawName, "")
	assert.Len(t, slots, 1)
}

func TestEncodeChildSlotsWritesLongNameGroupBeforeShortEntry(t *testing.T) {
	var rawName [11]byte
	copy(rawName[:], "LONGFI~1TXT")
	d := &Dentry{RawName: rawName, Attr: AttrArchive}

	slots := encodeChildSlots(d, rawName, "a-very-long-file-name.txt")
	require.Greater(t, len(slots), 1)

	for _, s := range slots[:len(slots)-1] {
		assert.Equal(t, slotLongName, classifySlot(s))
	}
	assert.Equal(t, slotShortName, classifySlot(slots[len(slots)-1]))
}

func TestReadDirEntriesJoinsLongNameAndSkipsDotEntries(t *testing.T) {
	var rawName [11]byte
	copy(rawName[:], "LONGFI~1TXT")
	d := &Dentry{RawName: rawName, Attr: AttrArchive, FileSize: 10}

	longName := "a-very-long-file-name.txt"
	slots := encodeChildSlots(d, rawName, longName)

	dotRaw := encodeShortDentry(&Dentry{Attr: AttrDir}, dotName())
	dotDotRaw := encodeShortDentry(&Dentry{Attr: AttrDir}, dotDotName())

	data := make([]byte, 0, dentrySize*(len(slots)+2))
	data = append(data, dotRaw...)
	data = append(data, dotDotRaw...)
	for _, s := range slots {
		data = append(data, s...)
	}

	entries := readDirEntries(data)
	require.Len(t, entries, 1)
	assert.Equal(t, longName, entries[0].LongName)
}

func TestReadDirEntriesStopsAtTrailingFreeSlot(t *testing.T) {
	var rawName [11]byte
	copy(rawName[:], "A       TXT")
	d := &Dentry{RawName: rawName, Attr: AttrArchive}

	data := make([]byte, dentrySize*3)
	copy(data[0:dentrySize], encodeShortDentry(d, rawName))
	// remaining two slots are left zeroed (FREE)

	entries := readDirEntries(data)
	require.Len(t, entries, 1)
	assert.Equal(t, "A.TXT", entries[0].ShortName)
}

func TestFindFreeRunLocatesConsecutiveSlots(t *testing.T) {
	data := make([]byte, dentrySize*4)
	data[1*dentrySize] = DeletedMarker
	data[2*dentrySize] = DeletedMarker
	// slot 0 is FREE (zeroed), slots 1-2 deleted, slot 3 FREE: a run of 4
	idx := findFreeRun(data, 4, 3)
	assert.Equal(t, 0, idx)
}

func TestGenShortNameDisambiguatesCollisions(t *testing.T) {
	used := map[string]bool{"ABCDEFGH.TXT": true}
	raw := genShortName("abcdefgh.txt", used)
	name := trimRawName(raw)
	assert.NotEqual(t, "ABCDEFGH.TXT", name)
}

func trimRawName(raw [11]byte) string {
	return decodeShortDentry(encodeShortDentry(&Dentry{}, raw)).ShortName
}
